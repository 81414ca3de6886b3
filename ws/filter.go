package ws

import (
	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/family-hub/gateway"
)

// compileWhere compiles the optional record filter of a subscription. The expression sees the columns of the
// changed row as variables, f.e. `is_pinned == true` or `sender_id != "..."`.
func compileWhere(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, nil
	}
	return expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
}

// RunFilterRecord evaluates prog against a changed row. Rows are passed if there is no program.
func (c *Client) RunFilterRecord(record gateway.Row, prog *vm.Program) bool {
	if prog == nil {
		return true
	}
	env := make(map[string]interface{}, len(record))
	for k, v := range record {
		env[k] = v
	}
	res, err := expr.Run(prog, env)
	if err != nil {
		c.logger.Debug("could not run record filter", "error", err)
		return false
	}
	if bRes, ok := res.(bool); ok && bRes {
		return true
	}
	return false
}
