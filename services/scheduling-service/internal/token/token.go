package token

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mentorgrid/mentorgrid/libs/auth"
)

// Actions an emailed link may authorize.
const (
	ActionConfirm = "confirm"
	ActionCancel  = "cancel"
)

// Issuer mints and verifies the signed single-use tokens embedded in
// notification links. Each token is scoped to one appointment and one action.
type Issuer struct {
	secret string
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue returns the signed token and its jti. The jti is what the single-use
// table records when the token is spent.
func (i *Issuer) Issue(appointmentID, action, actor string) (string, string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := auth.Claims{
		Sub:           actor,
		AppointmentID: appointmentID,
		Action:        action,
		Jti:           jti,
		Iat:           now.Unix(),
		Exp:           now.Add(i.ttl).Unix(),
	}
	tok, err := auth.SignHS256(claims, i.secret)
	if err != nil {
		return "", "", err
	}
	return tok, jti, nil
}

// Verify checks the signature and expiry and that the token is a complete
// action token for the expected action.
func (i *Issuer) Verify(tok, action string) (*auth.Claims, error) {
	claims, err := auth.ParseAndVerifyHS256(tok, i.secret)
	if err != nil {
		return nil, err
	}
	if claims.AppointmentID == "" || claims.Jti == "" {
		return nil, fmt.Errorf("%w: missing action claims", auth.ErrInvalidToken)
	}
	if claims.Action != action {
		return nil, fmt.Errorf("%w: wrong action", auth.ErrInvalidToken)
	}
	return claims, nil
}
