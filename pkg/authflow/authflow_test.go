package authflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	adminSessions     map[string]AdminSession
	recipientSessions map[string]RecipientSession
	magicLinks        map[string]MagicLink
	otps              map[string]OTPChallenge
	devicesByDevice   map[string]DeviceCode
	devicesByUser     map[string]string // userCode -> deviceCodeHash
	tokens            map[string]APIToken
}

func newMemStore() *memStore {
	return &memStore{
		adminSessions:     map[string]AdminSession{},
		recipientSessions: map[string]RecipientSession{},
		magicLinks:        map[string]MagicLink{},
		otps:              map[string]OTPChallenge{},
		devicesByDevice:   map[string]DeviceCode{},
		devicesByUser:     map[string]string{},
		tokens:            map[string]APIToken{},
	}
}

func (s *memStore) CreateAdminSession(ctx context.Context, a AdminSession) error {
	s.adminSessions[a.Token] = a
	return nil
}
func (s *memStore) GetAdminSession(ctx context.Context, tokenHash string) (*AdminSession, error) {
	a, ok := s.adminSessions[tokenHash]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
func (s *memStore) DeleteAdminSession(ctx context.Context, tokenHash string) error {
	delete(s.adminSessions, tokenHash)
	return nil
}
func (s *memStore) CreateRecipientSession(ctx context.Context, r RecipientSession) error {
	s.recipientSessions[r.Token] = r
	return nil
}
func (s *memStore) GetRecipientSession(ctx context.Context, tokenHash string) (*RecipientSession, error) {
	r, ok := s.recipientSessions[tokenHash]
	if !ok {
		return nil, nil
	}
	return &r, nil
}
func (s *memStore) CreateMagicLink(ctx context.Context, m MagicLink) error {
	s.magicLinks[m.Token] = m
	return nil
}
func (s *memStore) GetMagicLink(ctx context.Context, tokenHash string) (*MagicLink, error) {
	m, ok := s.magicLinks[tokenHash]
	if !ok {
		return nil, nil
	}
	return &m, nil
}
func (s *memStore) MarkMagicLinkUsed(ctx context.Context, tokenHash string) error {
	m := s.magicLinks[tokenHash]
	m.Used = true
	s.magicLinks[tokenHash] = m
	return nil
}
func (s *memStore) PutOTPChallenge(ctx context.Context, o OTPChallenge) error {
	s.otps[o.Recipient] = o
	return nil
}
func (s *memStore) GetOTPChallenge(ctx context.Context, recipient string) (*OTPChallenge, error) {
	o, ok := s.otps[recipient]
	if !ok {
		return nil, nil
	}
	return &o, nil
}
func (s *memStore) IncrementOTPAttempts(ctx context.Context, recipient string) error {
	o := s.otps[recipient]
	o.Attempts++
	s.otps[recipient] = o
	return nil
}
func (s *memStore) DeleteOTPChallenge(ctx context.Context, recipient string) error {
	delete(s.otps, recipient)
	return nil
}
func (s *memStore) CreateDeviceCode(ctx context.Context, d DeviceCode) error {
	s.devicesByDevice[d.DeviceCode] = d
	s.devicesByUser[d.UserCode] = d.DeviceCode
	return nil
}
func (s *memStore) GetDeviceCodeByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	d, ok := s.devicesByDevice[deviceCode]
	if !ok {
		return nil, nil
	}
	return &d, nil
}
func (s *memStore) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error) {
	hash, ok := s.devicesByUser[userCode]
	if !ok {
		return nil, nil
	}
	d := s.devicesByDevice[hash]
	return &d, nil
}
func (s *memStore) ApproveDeviceCode(ctx context.Context, userCode, userID, tokenID string) error {
	hash := s.devicesByUser[userCode]
	d := s.devicesByDevice[hash]
	d.Approved = true
	d.UserID = userID
	d.TokenID = tokenID
	s.devicesByDevice[hash] = d
	return nil
}
func (s *memStore) CreateAPIToken(ctx context.Context, t APIToken) error {
	s.tokens[t.TokenHash] = t
	return nil
}
func (s *memStore) GetAPITokenByHash(ctx context.Context, tokenHash string) (*APIToken, error) {
	t, ok := s.tokens[tokenHash]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
func (s *memStore) GetAPITokenByID(ctx context.Context, id string) (*APIToken, error) {
	for _, t := range s.tokens {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}
func (s *memStore) TouchAPIToken(ctx context.Context, id string) error { return nil }

type fakeNotifier struct {
	lastLink string
	lastOTP  string
}

func (n *fakeNotifier) SendMagicLink(ctx context.Context, email, link string) error {
	n.lastLink = link
	return nil
}
func (n *fakeNotifier) SendOTP(ctx context.Context, recipient, code string) error {
	n.lastOTP = code
	return nil
}

func TestAdminMagicLinkRoundTrip(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	mgr := NewSessionManager(store, nil, notifier)

	err := mgr.StartAdminLogin(context.Background(), "admin@example.com", func(token string) string {
		return "https://app.example.com/auth/admin/callback?token=" + token
	})
	require.NoError(t, err)
	require.NotEmpty(t, notifier.lastLink)

	token := notifier.lastLink[len("https://app.example.com/auth/admin/callback?token="):]
	sess, err := mgr.CompleteAdminLogin(context.Background(), token, func(email string) (string, error) {
		require.Equal(t, "admin@example.com", email)
		return "user-1", nil
	})
	require.NoError(t, err)
	require.Equal(t, "user-1", sess.UserID)

	_, err = mgr.CompleteAdminLogin(context.Background(), token, func(string) (string, error) { return "user-1", nil })
	require.Error(t, err)
}

func TestRecipientOTPRoundTrip(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	mgr := NewSessionManager(store, nil, notifier)

	require.NoError(t, mgr.StartRecipientOTP(context.Background(), "recipient@example.com"))
	require.NotEmpty(t, notifier.lastOTP)

	sess, err := mgr.VerifyRecipientOTP(context.Background(), "recipient@example.com", notifier.lastOTP)
	require.NoError(t, err)
	require.Equal(t, "recipient@example.com", sess.Recipient)
}

func TestRecipientOTPWrongCodeIncrementsAttempts(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	mgr := NewSessionManager(store, nil, notifier)

	require.NoError(t, mgr.StartRecipientOTP(context.Background(), "r@example.com"))
	_, err := mgr.VerifyRecipientOTP(context.Background(), "r@example.com", "000000")
	require.Error(t, err)

	challenge, _ := store.GetOTPChallenge(context.Background(), "r@example.com")
	require.Equal(t, 1, challenge.Attempts)
}

func TestDeviceCodeFlow(t *testing.T) {
	store := newMemStore()
	mgr := NewSessionManager(store, nil, nil)

	grant, err := mgr.StartDeviceCode(context.Background())
	require.NoError(t, err)

	status, issued, err := mgr.PollDeviceCode(context.Background(), grant.DeviceCode)
	require.NoError(t, err)
	require.Equal(t, DeviceCodePending, status)
	require.Nil(t, issued)

	require.NoError(t, mgr.ApproveDeviceCode(context.Background(), grant.UserCode, "user-9"))

	status, issued, err = mgr.PollDeviceCode(context.Background(), grant.DeviceCode)
	require.NoError(t, err)
	require.Equal(t, DeviceCodeApproved, status)
	require.NotEmpty(t, issued.Bearer)

	tok, err := mgr.VerifyAPIToken(context.Background(), issued.Bearer)
	require.NoError(t, err)
	require.Equal(t, "user-9", tok.UserID)

	// the plaintext token is handed out exactly once
	status, issued, err = mgr.PollDeviceCode(context.Background(), grant.DeviceCode)
	require.NoError(t, err)
	require.Equal(t, DeviceCodeUnavailable, status)
	require.Nil(t, issued)
}

func TestAPITokenIssueAndVerify(t *testing.T) {
	store := newMemStore()
	mgr := NewSessionManager(store, nil, nil)

	ttl := time.Hour
	issued, err := mgr.IssueAPIToken(context.Background(), "user-1", []string{"bundles:read"}, &ttl)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Bearer)

	tok, err := mgr.VerifyAPIToken(context.Background(), issued.Bearer)
	require.NoError(t, err)
	require.Equal(t, "user-1", tok.UserID)

	_, err = mgr.VerifyAPIToken(context.Background(), "lfk_garbage")
	require.Error(t, err)
}
