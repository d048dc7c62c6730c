package models

import "errors"

var (
	// ErrSourceUnavailable wraps network/HTTP failures of a source adapter.
	// Transient: retried with backoff, surfaced as a degraded-source report.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrParse signals an unexpected page/payload structure from a source.
	ErrParse = errors.New("parse error")

	// ErrNormalize marks a listing with an unparseable price. Per-item:
	// logged and dropped, never fatal to the batch.
	ErrNormalize = errors.New("normalization error")

	// ErrResolutionAmbiguous signals a similarity score inside the ambiguity
	// margin. Policy: create a new product; splits are cheaper to fix than
	// false merges.
	ErrResolutionAmbiguous = errors.New("resolution ambiguous")

	// ErrInsufficientData is the legitimate predictor state for products with
	// sparse history. Not a failure.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrModelFit marks a failed retraining attempt. The prior forecast stays
	// active; the next cycle retries.
	ErrModelFit = errors.New("model fit failure")

	// ErrNotFound is returned by catalogs and stores for unknown ids.
	ErrNotFound = errors.New("not found")
)
