package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Result struct {
	Valid  bool
	Errors []FieldError
}

// Reason joins field messages into a single user-displayable string.
func (r Result) Reason() string {
	if r.Valid {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return strings.Join(parts, "; ")
}

var symbolPattern = regexp.MustCompile(`^[A-Z.]{1,10}$`)

var validTIF = map[domain.TimeInForce]bool{
	domain.TIFDay: true,
	domain.TIFGTC: true,
	domain.TIFIOC: true,
	domain.TIFFOK: true,
}

// ValidateOrder runs syntactic and semantic checks on an order before any
// side effect is taken. Pure function of its input.
func ValidateOrder(order *domain.Order) Result {
	var errs []FieldError

	symbol := strings.TrimSpace(order.Symbol)
	if symbol == "" {
		errs = append(errs, FieldError{Field: "symbol", Message: "symbol is required"})
	} else if !symbolPattern.MatchString(symbol) {
		errs = append(errs, FieldError{Field: "symbol", Message: "symbol must match [A-Z.]{1,10}"})
	}

	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		errs = append(errs, FieldError{Field: "side", Message: "side must be buy or sell"})
	}

	switch order.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop, domain.OrderTypeStopLimit:
	default:
		errs = append(errs, FieldError{Field: "type", Message: "type must be market, limit, stop, or stop_limit"})
	}

	// Equity instruments trade in whole shares.
	if order.Quantity <= 0 {
		errs = append(errs, FieldError{Field: "quantity", Message: "quantity must be a positive integer"})
	}

	if order.Type.RequiresLimitPrice() {
		if order.LimitPrice == nil {
			errs = append(errs, FieldError{Field: "limit_price", Message: fmt.Sprintf("limit_price is required for %s orders", order.Type)})
		} else if !positive(*order.LimitPrice) {
			errs = append(errs, FieldError{Field: "limit_price", Message: "limit_price must be positive"})
		}
	} else if order.LimitPrice != nil && !positive(*order.LimitPrice) {
		// A market order may carry a price (it is ignored), but not a malformed one.
		errs = append(errs, FieldError{Field: "limit_price", Message: "limit_price must be positive"})
	}

	if order.Type.RequiresStopPrice() {
		if order.StopPrice == nil {
			errs = append(errs, FieldError{Field: "stop_price", Message: fmt.Sprintf("stop_price is required for %s orders", order.Type)})
		} else if !positive(*order.StopPrice) {
			errs = append(errs, FieldError{Field: "stop_price", Message: "stop_price must be positive"})
		}
	}

	if !validTIF[order.TimeInForce] {
		errs = append(errs, FieldError{Field: "time_in_force", Message: "time_in_force must be day, gtc, ioc, or fok"})
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func positive(d decimal.Decimal) bool {
	return d.GreaterThan(decimal.Zero)
}

// NormalizeSymbol trims and upper-cases a raw symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
