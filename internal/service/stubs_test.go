package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/internal/repository"
	"github.com/noah-isme/archivia-api/pkg/jobs"
)

type memUserRepo struct {
	mu        sync.Mutex
	users     map[string]*models.User
	groups    map[string][]string
	audits    []*models.AuditLog
	createErr error
	deleted   []string
}

func newMemUserRepo(users ...*models.User) *memUserRepo {
	r := &memUserRepo{users: map[string]*models.User{}, groups: map[string][]string{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) FindByResetToken(_ context.Context, tokenHash string, now time.Time) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ResetPasswordToken != nil && *u.ResetPasswordToken == tokenHash && u.ResetPasswordExpires != nil && u.ResetPasswordExpires.After(now) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memUserRepo) List(_ context.Context, filter models.UserFilter) ([]models.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.User{}
	for _, u := range r.users {
		if filter.Role != nil && u.Role() != *filter.Role {
			continue
		}
		if len(filter.GroupIDs) > 0 && (u.GroupID == nil || !containsString(filter.GroupIDs, *u.GroupID)) {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, len(out), nil
}

func (r *memUserRepo) ListEmailsByRole(_ context.Context, role models.Role) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, u := range r.users {
		if u.IsActive && u.Role() == role {
			out = append(out, u.Email)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) Update(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) mutate(id string, fn func(u *models.User) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !fn(u) {
		return sql.ErrNoRows
	}
	return nil
}

func (r *memUserRepo) SetActive(_ context.Context, id string, active bool) error {
	return r.mutate(id, func(u *models.User) bool {
		u.IsActive = active
		u.ArchiveRequested = false
		return true
	})
}

func (r *memUserRepo) RequestArchive(_ context.Context, id, reason string) error {
	return r.mutate(id, func(u *models.User) bool {
		if u.ArchiveRequested || !u.IsActive {
			return false
		}
		u.ArchiveRequested = true
		u.ArchiveReason = &reason
		return true
	})
}

func (r *memUserRepo) ResolveArchive(_ context.Context, id string, approve bool) error {
	return r.mutate(id, func(u *models.User) bool {
		if !u.ArchiveRequested {
			return false
		}
		u.ArchiveRequested = false
		if approve {
			u.IsActive = false
		}
		return true
	})
}

func (r *memUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.users, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *memUserRepo) UpdateLastLogin(_ context.Context, id string, ts time.Time) error {
	return r.mutate(id, func(u *models.User) bool { u.LastLogin = &ts; return true })
}

func (r *memUserRepo) SetResetToken(_ context.Context, id, tokenHash string, expires time.Time) error {
	return r.mutate(id, func(u *models.User) bool {
		u.ResetPasswordToken = &tokenHash
		u.ResetPasswordExpires = &expires
		return true
	})
}

func (r *memUserRepo) MarkVerified(_ context.Context, _ sqlx.ExtContext, id string) error {
	return r.mutate(id, func(u *models.User) bool { u.IsVerified = true; return true })
}

func (r *memUserRepo) SetPassword(_ context.Context, _ sqlx.ExtContext, id, passwordHash string) error {
	return r.mutate(id, func(u *models.User) bool {
		u.PasswordHash = &passwordHash
		u.ResetPasswordToken = nil
		u.ResetPasswordExpires = nil
		return true
	})
}

func (r *memUserRepo) ApplyProfile(_ context.Context, _ sqlx.ExtContext, id string, update models.PendingProfileUpdate) error {
	return r.mutate(id, func(u *models.User) bool {
		if update.FirstName != nil {
			u.FirstName = *update.FirstName
		}
		if update.LastName != nil {
			u.LastName = *update.LastName
		}
		if update.Title != nil {
			u.Title = update.Title
		}
		return true
	})
}

func (r *memUserRepo) GroupIDsForAdviser(_ context.Context, adviserID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.groups[adviserID]...), nil
}

func (r *memUserRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, log)
	return nil
}

func (r *memUserRepo) get(id string) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// memOTPStore mirrors the single-statement consume semantics of the
// Postgres repository.
type memOTPStore struct {
	mu         sync.Mutex
	challenges map[string]*models.PendingChallenge
}

func newMemOTPStore() *memOTPStore {
	return &memOTPStore{challenges: map[string]*models.PendingChallenge{}}
}

func otpKey(userID string, purpose models.OTPPurpose) string {
	return userID + "|" + string(purpose)
}

func (s *memOTPStore) Upsert(_ context.Context, c *models.PendingChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.challenges[otpKey(c.UserID, c.Purpose)] = &cp
	return nil
}

func (s *memOTPStore) Get(_ context.Context, userID string, purpose models.OTPPurpose) (*models.PendingChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[otpKey(userID, purpose)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (s *memOTPStore) Consume(ctx context.Context, userID string, purpose models.OTPPurpose, code string, now time.Time, apply repository.ChallengeApplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := otpKey(userID, purpose)
	c, ok := s.challenges[key]
	if !ok || c.Code != code || c.ExpiresAt.Before(now) {
		return sql.ErrNoRows
	}
	delete(s.challenges, key)
	if apply != nil {
		if err := apply(ctx, nil, c); err != nil {
			s.challenges[key] = c
			return err
		}
	}
	return nil
}

func (s *memOTPStore) Delete(_ context.Context, userID string, purpose models.OTPPurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, otpKey(userID, purpose))
	return nil
}

type recordingNotifier struct {
	mu         sync.Mutex
	sent       []Notification
	dispatched []Notification
	sendErr    error
}

func (n *recordingNotifier) SendNow(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) Dispatch(msg Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, msg)
}

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []NotificationKind
	for _, m := range n.dispatched {
		out = append(out, m.Kind)
	}
	return out
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }

type memObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	putErr    error
	deleteErr error
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: map[string][]byte{}}
}

func (s *memObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return key, nil
}

func (s *memObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memObjectStore) Presign(_ context.Context, key string) (string, time.Time, error) {
	return "https://files.example.com/" + key, time.Now().Add(time.Hour), nil
}

func (s *memObjectStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type memAuditLog struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func (a *memAuditLog) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, *log)
	return nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) InvalidateDocumentStats(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}
