// Package storage persists Loopcast's control-plane state: accounts, plans,
// media records, settings, and watch-time counters. Two backends implement
// the same Repository interface: a JSON file store for development and
// single-node deployments, and Postgres for production.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"loopcast/internal/models"
)

type dataset struct {
	Users    map[string]models.User      `json:"users"`
	Plans    map[string]models.Plan      `json:"plans"`
	Media    map[string]models.MediaFile `json:"media"`
	Settings map[string]string           `json:"settings"`
}

func newDataset() dataset {
	return dataset{
		Users:    make(map[string]models.User),
		Plans:    make(map[string]models.Plan),
		Media:    make(map[string]models.MediaFile),
		Settings: make(map[string]string),
	}
}

// Storage is the JSON-file backend. All mutations persist the full dataset
// atomically via a temp-file rename.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	now      func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	adminBootstrap  AdminBootstrap
}

var _ Repository = (*Storage)(nil)

// NewJSONRepository opens the JSON-backed datastore and returns it as a
// Repository.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}

// NewStorage opens (or creates) the JSON store at path, then seeds default
// plans, settings, and the bootstrap admin account.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt.applyJSON(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	if err := store.seed(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Plans == nil {
		s.data.Plans = make(map[string]models.Plan)
	}
	if s.data.Media == nil {
		s.data.Media = make(map[string]models.MediaFile)
	}
	if s.data.Settings == nil {
		s.data.Settings = make(map[string]string)
	}
	return nil
}

func (s *Storage) seed() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, plan := range DefaultPlans() {
		if _, ok := s.data.Plans[plan.ID]; !ok {
			s.data.Plans[plan.ID] = plan
			changed = true
		}
	}
	for key, value := range defaultSettings() {
		if _, ok := s.data.Settings[key]; !ok {
			s.data.Settings[key] = value
			changed = true
		}
	}
	if s.adminBootstrap.Password != "" && !s.hasAdminLocked() {
		username := s.adminBootstrap.Username
		if username == "" {
			username = defaultAdminUsername
		}
		hash, err := hashPassword(s.adminBootstrap.Password)
		if err != nil {
			return fmt.Errorf("hash bootstrap admin password: %w", err)
		}
		admin := models.User{
			ID:           newID("usr"),
			Username:     username,
			PasswordHash: hash,
			Role:         "admin",
			PlanID:       defaultAdminPlanID,
			CreatedAt:    s.now().UTC(),
		}
		s.data.Users[admin.ID] = admin
		changed = true
	}
	if !changed {
		return nil
	}
	return s.persist()
}

func (s *Storage) hasAdminLocked() bool {
	for _, u := range s.data.Users {
		if u.IsAdmin() {
			return true
		}
	}
	return false
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func (s *Storage) Ping(context.Context) error { return nil }

func (s *Storage) Close(context.Context) error { return nil }

func (s *Storage) CreateUser(_ context.Context, params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	if len(params.Password) < 6 {
		return models.User{}, errors.New("password must be at least 6 characters")
	}
	hash, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.data.Users {
		if strings.EqualFold(u.Username, username) {
			return models.User{}, ErrConflict
		}
	}
	role := params.Role
	if role == "" {
		role = "user"
	}
	planID := params.PlanID
	if planID == "" {
		planID = "trial"
	}
	if _, ok := s.data.Plans[planID]; !ok {
		return models.User{}, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	user := models.User{
		ID:           newID("usr"),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		PlanID:       planID,
		CreatedAt:    s.now().UTC(),
	}
	s.data.Users[user.ID] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, user.ID)
		return models.User{}, err
	}
	return user, nil
}

func (s *Storage) AuthenticateUser(_ context.Context, username, password string) (models.User, error) {
	s.mu.RLock()
	var found models.User
	ok := false
	for _, u := range s.data.Users {
		if strings.EqualFold(u.Username, strings.TrimSpace(username)) {
			found, ok = u, true
			break
		}
	}
	s.mu.RUnlock()
	if !ok || !verifyPassword(found.PasswordHash, password) {
		return models.User{}, ErrInvalidCredentials
	}
	return found, nil
}

func (s *Storage) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (s *Storage) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.data.Users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (s *Storage) ListUsers(context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, u := range s.data.Users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Storage) UpdateUser(_ context.Context, id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	if update.PlanID != nil {
		if _, ok := s.data.Plans[*update.PlanID]; !ok {
			return models.User{}, fmt.Errorf("plan %s: %w", *update.PlanID, ErrNotFound)
		}
		user.PlanID = *update.PlanID
	}
	if update.Role != nil {
		user.Role = *update.Role
	}
	if update.Password != nil {
		hash, err := hashPassword(*update.Password)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hash
	}
	if update.StorageUsed != nil {
		user.StorageUsed = *update.StorageUsed
	}
	s.data.Users[id] = user
	if err := s.persist(); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Storage) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Users[id]; !ok {
		return ErrNotFound
	}
	delete(s.data.Users, id)
	for mediaID, m := range s.data.Media {
		if m.OwnerID == id {
			delete(s.data.Media, mediaID)
		}
	}
	return s.persist()
}

func (s *Storage) ListPlans(context.Context) ([]models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plans := make([]models.Plan, 0, len(s.data.Plans))
	for _, p := range s.data.Plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].MaxStorageMB < plans[j].MaxStorageMB })
	return plans, nil
}

func (s *Storage) GetPlan(_ context.Context, id string) (models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.data.Plans[id]
	if !ok {
		return models.Plan{}, ErrNotFound
	}
	return plan, nil
}

func (s *Storage) UpsertPlan(_ context.Context, plan models.Plan) (models.Plan, error) {
	if strings.TrimSpace(plan.ID) == "" {
		return models.Plan{}, errors.New("plan id is required")
	}
	if strings.TrimSpace(plan.Name) == "" {
		return models.Plan{}, errors.New("plan name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Plans[plan.ID] = plan
	if err := s.persist(); err != nil {
		return models.Plan{}, err
	}
	return plan, nil
}

func (s *Storage) AddMediaFile(_ context.Context, params CreateMediaParams) (models.MediaFile, error) {
	if params.OwnerID == "" || params.Filename == "" || params.Path == "" {
		return models.MediaFile{}, errors.New("owner, filename and path are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.data.Users[params.OwnerID]
	if !ok {
		return models.MediaFile{}, fmt.Errorf("owner %s: %w", params.OwnerID, ErrNotFound)
	}
	media := models.MediaFile{
		ID:        newID("med"),
		OwnerID:   params.OwnerID,
		Filename:  params.Filename,
		Path:      params.Path,
		SizeBytes: params.SizeBytes,
		Type:      params.Type,
		CreatedAt: s.now().UTC(),
	}
	if media.Type == "" {
		media.Type = models.ClassifyExtension(filepath.Ext(media.Filename))
	}
	s.data.Media[media.ID] = media
	owner.StorageUsed += media.SizeBytes
	s.data.Users[owner.ID] = owner
	if err := s.persist(); err != nil {
		return models.MediaFile{}, err
	}
	return media, nil
}

func (s *Storage) ListMediaFiles(_ context.Context, ownerID string) ([]models.MediaFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make([]models.MediaFile, 0)
	for _, m := range s.data.Media {
		if ownerID == "" || m.OwnerID == ownerID {
			files = append(files, m)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].CreatedAt.After(files[j].CreatedAt) })
	return files, nil
}

func (s *Storage) GetMediaFile(_ context.Context, id string) (models.MediaFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	media, ok := s.data.Media[id]
	if !ok {
		return models.MediaFile{}, ErrNotFound
	}
	return media, nil
}

func (s *Storage) SetMediaLocked(_ context.Context, id string, locked bool) (models.MediaFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	media, ok := s.data.Media[id]
	if !ok {
		return models.MediaFile{}, ErrNotFound
	}
	media.Locked = locked
	s.data.Media[id] = media
	if err := s.persist(); err != nil {
		return models.MediaFile{}, err
	}
	return media, nil
}

func (s *Storage) DeleteMediaFile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	media, ok := s.data.Media[id]
	if !ok {
		return ErrNotFound
	}
	if media.Locked {
		return ErrLocked
	}
	delete(s.data.Media, id)
	if owner, ok := s.data.Users[media.OwnerID]; ok {
		owner.StorageUsed -= media.SizeBytes
		if owner.StorageUsed < 0 {
			owner.StorageUsed = 0
		}
		s.data.Users[owner.ID] = owner
	}
	return s.persist()
}

func (s *Storage) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data.Settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *Storage) SetSetting(_ context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("setting key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Settings[key] = value
	return s.persist()
}

func (s *Storage) ListSettings(context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.data.Settings))
	for k, v := range s.data.Settings {
		out[k] = v
	}
	return out, nil
}

func (s *Storage) SyncUsage(_ context.Context, userID string) (models.User, models.Plan, error) {
	return s.addUsage(userID, 0)
}

func (s *Storage) AddUsage(_ context.Context, userID string, deltaSeconds int64) (models.User, models.Plan, error) {
	if deltaSeconds < 0 {
		deltaSeconds = 0
	}
	return s.addUsage(userID, deltaSeconds)
}

func (s *Storage) addUsage(userID string, delta int64) (models.User, models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.data.Users[userID]
	if !ok {
		return models.User{}, models.Plan{}, ErrNotFound
	}
	plan, ok := s.data.Plans[user.PlanID]
	if !ok {
		return models.User{}, models.Plan{}, fmt.Errorf("plan %s: %w", user.PlanID, ErrNotFound)
	}
	user, changed := syncUsage(user, plan, s.now())
	if delta > 0 {
		user.UsageSeconds += delta
		changed = true
	}
	if changed {
		s.data.Users[userID] = user
		if err := s.persist(); err != nil {
			return models.User{}, models.Plan{}, err
		}
	}
	return user, plan, nil
}
