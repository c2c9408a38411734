package shared

import "context"

// Operator identifies the authenticated user driving a request.
type Operator struct {
	ID   int64
	Code string
	Name string
}

type contextKey string

const operatorContextKey contextKey = "stocklane.operator"

// ContextWithOperator attaches the operator to the context.
func ContextWithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey, op)
}

// OperatorFromContext returns the operator, or nil when unauthenticated.
func OperatorFromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorContextKey).(*Operator)
	return op
}
