package model

import "errors"

var (
	// ErrMissingRecommendation guards the ActionResult audit chain.
	ErrMissingRecommendation = errors.New("action result requires a recommendation id")
)
