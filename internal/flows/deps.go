package flows

import "context"

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Authenticate AuthenticateDeps
	Refresh      RefreshDeps
	Validate     ValidateDeps
	Logout       LogoutDeps
}

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Validate.ParseAccess != nil && s.deps.Authenticate.Lockout != nil
}

func (s Service) Authenticate(ctx context.Context, identifier, password string) AuthenticateResult {
	return RunAuthenticate(ctx, identifier, password, s.deps.Authenticate)
}

func (s Service) ValidateAccess(token string) ValidateResult {
	return RunValidateAccess(token, s.deps.Validate)
}

func (s Service) ValidateRefresh(ctx context.Context, token string) RefreshResult {
	return RunValidateRefresh(ctx, token, s.deps.Refresh)
}

func (s Service) Refresh(ctx context.Context, token string) RefreshResult {
	return RunRefresh(ctx, token, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, token string) LogoutResult {
	return RunLogout(ctx, token, s.deps.Logout)
}
