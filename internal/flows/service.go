package flows

import "context"

// Deps is the full dependency wiring, built once by the root engine.
type Deps struct {
	Issue      IssueDeps
	Register   RegisterDeps
	Login      LoginDeps
	Refresh    RefreshDeps
	Logout     LogoutDeps
	Verify     VerifyDeps
	Credential CredentialDeps
}

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired.
func (s Service) Initialized() bool {
	return s.deps.Verify.ParseAccess != nil
}

func (s Service) Register(ctx context.Context, identifier, password string) (*RegisterResult, error) {
	return RunRegister(ctx, identifier, password, s.deps.Register)
}

func (s Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	return RunLogin(ctx, identifier, password, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, sessionID string) error {
	return RunLogout(ctx, sessionID, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, identityID string) error {
	return RunLogoutAll(ctx, identityID, s.deps.Logout)
}

func (s Service) Verify(ctx context.Context, accessToken string) (*VerifyResult, error) {
	return RunVerify(ctx, accessToken, s.deps.Verify)
}

func (s Service) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	return RunChangePassword(ctx, identityID, oldPassword, newPassword, s.deps.Credential)
}

func (s Service) InvalidateAllTokens(ctx context.Context, identityID string) error {
	return RunInvalidateAllTokens(ctx, identityID, s.deps.Credential)
}

func (s Service) SetActive(ctx context.Context, identityID string, active bool) error {
	return RunSetActive(ctx, identityID, active, s.deps.Credential)
}

func (s Service) IssueSession(ctx context.Context, identity IdentityRecord) (*SessionGrant, error) {
	return RunIssueSession(ctx, identity, s.deps.Issue)
}
