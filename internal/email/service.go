package email

import (
	"context"
)

type Service interface {
	SendVerification(ctx context.Context, email string, token string) error
	SendWelcome(ctx context.Context, email string, name string) error
	SendPaymentFailed(ctx context.Context, email string, organization string) error
}
