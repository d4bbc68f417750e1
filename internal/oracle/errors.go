package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ybdigitall/closai/pkg/entitlement"
)

// Base errors matched by errors.Is against an *Error of the same kind.
var (
	ErrCatalogUnavailable = errors.New("plan catalog unavailable")
	ErrProductNotFound    = errors.New("product not found")
	ErrUnverified         = errors.New("transaction could not be verified")
	ErrPending            = errors.New("purchase pending")
	ErrNetwork            = errors.New("network error")
)

// ErrorKind is the category of an oracle failure.
type ErrorKind string

const (
	KindCatalogUnavailable ErrorKind = "catalog_unavailable"
	KindProductNotFound    ErrorKind = "product_not_found"
	KindUnverified         ErrorKind = "unverified"
	KindPending            ErrorKind = "pending"
	KindNetwork            ErrorKind = "network"
	KindUnknown            ErrorKind = "unknown"
)

// Error is a failed oracle operation. Every oracle error is surfaced to the
// user with a localized message and a retry affordance.
type Error struct {
	Kind      ErrorKind
	Op        string // catalog, purchase, restore, refresh
	Err       error
	Retryable bool
	Timestamp time.Time
}

// NewError wraps err as an oracle error of the given kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Retryable: true,
		Timestamp: time.Now(),
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is against the base errors.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	switch target {
	case ErrCatalogUnavailable:
		return e.Kind == KindCatalogUnavailable
	case ErrProductNotFound:
		return e.Kind == KindProductNotFound
	case ErrUnverified:
		return e.Kind == KindUnverified
	case ErrPending:
		return e.Kind == KindPending
	case ErrNetwork:
		return e.Kind == KindNetwork
	}
	return errors.Is(e.Err, target)
}

// classify maps a platform error to an oracle error kind.
func classify(err error) ErrorKind {
	var oe *Error
	switch {
	case errors.As(err, &oe):
		return oe.Kind
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrProductNotFound):
		return KindProductNotFound
	default:
		return KindUnknown
	}
}

// wrap returns err as an *Error for op, keeping an existing oracle error's kind.
func wrap(op string, fallback ErrorKind, err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		if oe.Op == "" {
			oe.Op = op
		}
		return oe
	}
	kind := classify(err)
	if kind == KindUnknown {
		kind = fallback
	}
	return NewError(kind, op, err)
}

// Message returns the localized, user-facing text for the error.
func (e *Error) Message(lang entitlement.Language) string {
	tr := lang == entitlement.LanguageTurkish
	switch e.Kind {
	case KindCatalogUnavailable:
		if tr {
			return "ClosAI Premium planları yüklenemedi. Lütfen internet bağlantınızı kontrol edin."
		}
		return "ClosAI Premium plans could not be loaded. Please check your internet connection."
	case KindProductNotFound:
		if tr {
			return "Seçilen abonelik planı bulunamadı. Lütfen ürünleri yeniden yükleyin."
		}
		return "The selected plan was not found. Please reload the plans."
	case KindUnverified:
		if tr {
			return "Satın alma doğrulanamadı. Lütfen tekrar deneyin."
		}
		return "The purchase could not be verified. Please try again."
	case KindPending:
		if tr {
			return "Satın alma işlemi beklemede. Lütfen bekleyin."
		}
		return "The purchase is pending. Please wait."
	case KindNetwork:
		if e.Op == "restore" {
			if tr {
				return "Satın almalar geri yüklenemedi. Lütfen internet bağlantınızı kontrol edin."
			}
			return "Purchases could not be restored. Please check your internet connection."
		}
		if tr {
			return "Satın alma başarısız. Lütfen internet bağlantınızı kontrol edin."
		}
		return "The purchase failed. Please check your internet connection."
	default:
		if tr {
			return "Bilinmeyen bir hata oluştu. Lütfen tekrar deneyin."
		}
		return "An unknown error occurred. Please try again."
	}
}

// IsRetryable reports whether err is an oracle error worth retrying.
func IsRetryable(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Retryable
	}
	return false
}

// UserMessage localizes any error returned by the adapter.
func UserMessage(err error, lang entitlement.Language) string {
	if err == nil {
		return ""
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Message(lang)
	}
	return NewError(KindUnknown, "", err).Message(lang)
}
