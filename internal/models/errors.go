package models

import "errors"

// Sentinel errors returned by the analysis pipeline. Callers wrap them with
// context using %w and classify them with KindOf.
var (
	ErrValidation = errors.New("validation error")

	ErrUnrecognizedURLFormat    = errors.New("unsupported url format")
	ErrInvalidProviderURLFormat = errors.New("invalid firebase storage url format")
	ErrInvalidGenericURLFormat  = errors.New("invalid google cloud storage url format")

	ErrObjectNotFound     = errors.New("object not found")
	ErrCredentialIssuance = errors.New("failed to issue signed url")

	ErrAuthentication     = errors.New("model endpoint authentication failed")
	ErrUpstream           = errors.New("model endpoint error")
	ErrEmptyModelResponse = errors.New("no valid food data found in response")

	ErrMalformedModelOutput = errors.New("malformed model output")

	ErrPersistence = errors.New("failed to persist analysis")
	ErrNotFound    = errors.New("not found")
)

// Kind groups pipeline errors by the stage that produced them.
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindValidation      Kind = "validation"
	KindURLResolution   Kind = "url_resolution"
	KindCredential      Kind = "credential"
	KindModelInvocation Kind = "model_invocation"
	KindParse           Kind = "parse"
	KindPersistence     Kind = "persistence"
	KindNotFound        Kind = "not_found"
)

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindValidation, []error{ErrValidation}},
	{KindURLResolution, []error{ErrUnrecognizedURLFormat, ErrInvalidProviderURLFormat, ErrInvalidGenericURLFormat}},
	{KindCredential, []error{ErrObjectNotFound, ErrCredentialIssuance}},
	{KindModelInvocation, []error{ErrAuthentication, ErrUpstream, ErrEmptyModelResponse}},
	{KindParse, []error{ErrMalformedModelOutput}},
	{KindPersistence, []error{ErrPersistence}},
	{KindNotFound, []error{ErrNotFound}},
}

// KindOf reports which kind of failure err is. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindUnknown
}
