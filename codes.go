package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// codeSpace is the range of deliverable codes: 100000-999999
var codeSpace = big.NewInt(900000)

// NewNumericCode returns a uniformly distributed 6 digit code
func NewNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate verification code")
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// NewLinkSecret returns the secret embedded in verification links
func NewLinkSecret() string {
	return uuid.NewString()
}
