package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/example/paygate/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidateStruct runs tag validation and reports failing fields by JSON name.
func ValidateStruct(gateway string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return internalError(gateway, "validate", err)
	}

	fields := make([]string, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		path := fieldPath(fe.Namespace())
		fields = append(fields, path)
		msgs = append(msgs, describeFieldError(path, fe))
	}
	return validationError(gateway, strings.Join(msgs, "; "), fields...)
}

// fieldPath drops the top-level struct name from a validator namespace.
func fieldPath(ns string) string {
	if idx := strings.IndexByte(ns, '.'); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}

func describeFieldError(path string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "email":
		return path + " must be a valid email address"
	case "len":
		return fmt.Sprintf("%s must be %s characters", path, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", path, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}

// ValidateCheckout checks field constraints and the amount invariant
// subtotal + tax + shipping - discount == total (within 0.01). It
// normalises currency codes in place. No gateway is contacted.
func ValidateCheckout(gateway string, req *models.CheckoutRequest) error {
	req.Currency = NormalizeCurrency(req.Currency)
	req.ShippingAddress.CountryCode = strings.ToUpper(req.ShippingAddress.CountryCode)
	if req.BillingAddress != nil {
		req.BillingAddress.CountryCode = strings.ToUpper(req.BillingAddress.CountryCode)
	}

	if len(req.Items) == 0 {
		return validationError(gateway, "No items in order", "items")
	}

	if err := ValidateStruct(gateway, req); err != nil {
		return err
	}

	var fields []string
	var msgs []string
	positive := func(name string, v decimal.Decimal) {
		if !v.IsPositive() {
			fields = append(fields, name)
			msgs = append(msgs, name+" must be greater than 0")
		}
	}
	nonNegative := func(name string, v decimal.Decimal) {
		if v.IsNegative() {
			fields = append(fields, name)
			msgs = append(msgs, name+" must not be negative")
		}
	}

	positive("subtotal", req.Subtotal)
	nonNegative("tax_amount", req.TaxAmount)
	nonNegative("shipping_amount", req.ShippingAmount)
	nonNegative("discount_amount", req.DiscountAmount)
	positive("total_amount", req.TotalAmount)
	for i := range req.Items {
		positive(fmt.Sprintf("items[%d].unit_price", i), req.Items[i].UnitPrice)
		req.Items[i].Currency = strings.ToUpper(req.Items[i].Currency)
	}
	if len(fields) > 0 {
		return validationError(gateway, strings.Join(msgs, "; "), fields...)
	}

	return CheckAmountInvariant(gateway, req)
}

// CheckAmountInvariant rejects requests whose total does not match the sum
// of its components.
func CheckAmountInvariant(gateway string, req *models.CheckoutRequest) error {
	diff := req.ComputedTotal().Sub(req.TotalAmount).Abs()
	if diff.GreaterThan(amountTolerance) {
		return validationError(gateway,
			fmt.Sprintf("Total amount calculation mismatch: expected %s, got %s",
				FormatAmount(req.ComputedTotal()), FormatAmount(req.TotalAmount)),
			"total_amount")
	}
	return nil
}

// requireCard checks the card fields a card-present gateway needs.
func requireCard(gateway string, pm models.PaymentMethod) error {
	var missing []string
	if pm.CardNumber == "" {
		missing = append(missing, "card_number")
	}
	if pm.ExpiryMonth == "" {
		missing = append(missing, "expiry_month")
	}
	if pm.ExpiryYear == "" {
		missing = append(missing, "expiry_year")
	}
	if pm.CVC == "" {
		missing = append(missing, "cvc")
	}
	if len(missing) > 0 {
		return missingFieldsError(gateway, "payment_method fields", missing)
	}
	return nil
}
