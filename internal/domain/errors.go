package domain

import "errors"

// Domain errors
var (
	ErrMemberNotFound         = errors.New("member not found")
	ErrMemberExists           = errors.New("member already exists")
	ErrSubmissionNotFound     = errors.New("submission not found")
	ErrUnknownCurriculumItem  = errors.New("curriculum item not found")
	ErrInvalidRankTier        = errors.New("invalid rank tier")
	ErrInvalidCategory        = errors.New("invalid category")
	ErrInvalidCurriculumLevel = errors.New("invalid curriculum level")
	ErrInvalidPoints          = errors.New("invalid points value")
	ErrConcurrentUpdate       = errors.New("profile changed concurrently, retries exhausted")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInternalError          = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrSubmissionNotFound) ||
		errors.Is(err, ErrUnknownCurriculumItem)
}

// IsValidationError checks if an error was caused by bad caller input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRankTier) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrInvalidCurriculumLevel) ||
		errors.Is(err, ErrInvalidPoints) ||
		errors.Is(err, ErrInvalidRequest)
}
