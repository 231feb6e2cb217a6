package oso

// ApiError is the single kind of error the client surfaces at its
// boundary: a non-success response after any retries are exhausted, or
// an irrecoverable transport failure. Message carries the server's
// `message` field when one was sent, else the raw failure text.
type ApiError struct {
	Message string
}

var _ error = &ApiError{}

func (e *ApiError) Error() string {
	return "Oso Cloud error: " + e.Message
}
