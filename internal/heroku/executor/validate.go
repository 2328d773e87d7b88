package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/herokuerr"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/operation"
)

// validatorCache memoizes compiled JSON Schema validators by operation id,
// the way the schema service memoizes nothing but the executor must:
// compilation is expensive enough that every execute call shouldn't repeat
// it.
type validatorCache struct {
	mu    sync.Mutex
	byOp  map[string]*gojsonschema.Schema
}

func newValidatorCache() *validatorCache {
	return &validatorCache{byOp: make(map[string]*gojsonschema.Schema)}
}

func (c *validatorCache) compile(op operation.Operation, rootSchema map[string]any) (*gojsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.byOp[op.OperationID]; ok {
		return s, nil
	}

	combined := map[string]any{}
	if m, ok := op.RequestSchema.(map[string]any); ok {
		for k, v := range m {
			combined[k] = v
		}
	}
	if defs, ok := rootSchema["definitions"]; ok {
		combined["definitions"] = defs
	}

	raw, err := json.Marshal(combined)
	if err != nil {
		return nil, fmt.Errorf("executor: marshal combined schema for %s: %w", op.OperationID, err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("executor: compile schema for %s: %w", op.OperationID, err)
	}

	c.byOp[op.OperationID] = schema
	return schema, nil
}

// validatePathParams requires every declared path parameter to be present
// and non-empty. Per spec.md §9's preserved asymmetry, an empty string
// counts as missing here but not for query params.
func validatePathParams(op operation.Operation, params map[string]string) error {
	for _, p := range op.PathParams {
		v, ok := params[p.Name]
		if !ok || v == "" {
			return herokuerr.New(herokuerr.CodeValidationError, fmt.Sprintf("missing required path param %q", p.Name))
		}
	}
	return nil
}

// validateQueryParams requires every value to be a string, number, or bool.
func validateQueryParams(params map[string]any) error {
	for k, v := range params {
		switch v.(type) {
		case string, float64, int, int64, bool:
			continue
		default:
			return herokuerr.New(herokuerr.CodeValidationError, fmt.Sprintf("query param %q must be a string, number, or boolean", k))
		}
	}
	return nil
}

// validateBody compiles (if needed) and runs the operation's body schema,
// when it has one, against body. A nil body is treated as an empty object.
func validateBody(cache *validatorCache, op operation.Operation, rootSchema map[string]any, body any) error {
	if op.RequestSchema == nil {
		return nil
	}
	if rootSchema == nil {
		return herokuerr.New(herokuerr.CodeSchemaUnavailable, "root schema not loaded, cannot validate request body")
	}

	schema, err := cache.compile(op, rootSchema)
	if err != nil {
		return herokuerr.New(herokuerr.CodeSchemaUnavailable, err.Error())
	}

	if body == nil {
		body = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(body))
	if err != nil {
		return herokuerr.New(herokuerr.CodeValidationError, err.Error())
	}
	if result.Valid() {
		return nil
	}

	var msgs []string
	for _, e := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return herokuerr.New(herokuerr.CodeValidationError, strings.Join(msgs, "; "))
}
