package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// confirmTokenLen is the maximum length of a minted confirmation token.
const confirmTokenLen = 48

// ConfirmationToken derives the stateless HMAC-SHA256 token that binds a
// mutating request's shape to the server secret. Equivalent requests (same
// user, operation and parameters, modulo key ordering) always derive the
// same token — see StableStringify.
//
// Mirrors the HS256 signing style in the pack's klingai auth client
// (crypto/hmac + crypto/sha256, no third-party JWT library).
func ConfirmationToken(secret []byte, userID, operationID string, pathParams, queryParams, body any) string {
	payload := userID + "|" + operationID + "|" +
		StableStringify(pathParams) + "|" +
		StableStringify(queryParams) + "|" +
		StableStringify(body)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	sum := mac.Sum(nil)

	token := base64.RawURLEncoding.EncodeToString(sum)
	if len(token) > confirmTokenLen {
		token = token[:confirmTokenLen]
	}
	return token
}
