package services

import (
	"context"
	"errors"
	"fmt"

	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/platform/envutil"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

// ErrEntitlementRequired means the caller's plan does not cover the
// requested generation kind. The HTTP layer maps it to 402.
var ErrEntitlementRequired = errors.New("plan does not include this generation kind")

type EntitlementService interface {
	CanGenerate(ctx context.Context, kind string) error
}

// envEntitlements gates kinds by the GENERATION_ENTITLED_KINDS list.
// Unset means every kind is available, which suits self-hosted installs.
type envEntitlements struct {
	entitled map[string]bool
	log      *logger.Logger
}

func NewEnvEntitlements(log *logger.Logger) EntitlementService {
	kinds := envutil.List("GENERATION_ENTITLED_KINDS")
	entitled := map[string]bool{}
	for _, k := range kinds {
		entitled[k] = true
	}
	return &envEntitlements{
		entitled: entitled,
		log:      log.With("service", "EntitlementService"),
	}
}

func (s *envEntitlements) CanGenerate(ctx context.Context, kind string) error {
	if !types.ValidKind(kind) {
		return fmt.Errorf("unknown kind %q", kind)
	}
	if len(s.entitled) == 0 || s.entitled[kind] {
		return nil
	}
	s.log.Info("generation kind not entitled", "kind", kind)
	return ErrEntitlementRequired
}
