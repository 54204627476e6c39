package model

// CallerIdentity is the verified identity of the user making a request.
type CallerIdentity struct {
	UserID string
}

func (c CallerIdentity) IsZero() bool {
	return c.UserID == ""
}
