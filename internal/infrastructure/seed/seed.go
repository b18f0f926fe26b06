// Package seed loads subjects, modules and users from a YAML file into the
// course and student directories.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/domain/student"
)

// File is the on-disk seed layout.
type File struct {
	Modules []ModuleEntry `yaml:"modules"`
	Users   []UserEntry   `yaml:"users"`
}

// ModuleEntry describes one module. EndsAt defaults to three weeks after
// StartsAt.
type ModuleEntry struct {
	ID       string    `yaml:"id"`
	Subject  string    `yaml:"subject"`
	Title    string    `yaml:"title"`
	Position int       `yaml:"position"`
	StartsAt time.Time `yaml:"startsAt"`
	EndsAt   time.Time `yaml:"endsAt"`
}

// UserEntry describes one student or teacher.
type UserEntry struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"displayName"`
	Email       string   `yaml:"email"`
	Role        string   `yaml:"role"`
	Subjects    []string `yaml:"subjects"`
}

// Data is a parsed and validated seed.
type Data struct {
	Modules  []*course.Module
	Profiles []*student.Profile
}

// ModuleSink stores modules. The memory directory and the Postgres course
// repository both implement it.
type ModuleSink interface {
	Upsert(ctx context.Context, m *course.Module) error
}

// ProfileSink stores user profiles.
type ProfileSink interface {
	Upsert(ctx context.Context, p *student.Profile) error
}

var ErrInvalidSeed = errors.New("invalid seed")

// LoadFile reads and parses the seed at path.
func LoadFile(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()

	data, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return data, nil
}

// Parse decodes a seed document and converts it to domain objects.
func Parse(r io.Reader) (*Data, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return file.convert()
}

func (f File) convert() (*Data, error) {
	data := &Data{
		Modules:  make([]*course.Module, 0, len(f.Modules)),
		Profiles: make([]*student.Profile, 0, len(f.Users)),
	}

	seenModules := make(map[shared.ModuleID]bool, len(f.Modules))
	for i, e := range f.Modules {
		m, err := e.module()
		if err != nil {
			return nil, fmt.Errorf("%w: modules[%d]: %v", ErrInvalidSeed, i, err)
		}
		if seenModules[m.ID] {
			return nil, fmt.Errorf("%w: duplicate module %q", ErrInvalidSeed, m.ID)
		}
		seenModules[m.ID] = true
		data.Modules = append(data.Modules, m)
	}

	seenUsers := make(map[shared.StudentID]bool, len(f.Users))
	for i, e := range f.Users {
		p, err := e.profile()
		if err != nil {
			return nil, fmt.Errorf("%w: users[%d]: %v", ErrInvalidSeed, i, err)
		}
		if seenUsers[p.ID] {
			return nil, fmt.Errorf("%w: duplicate user %q", ErrInvalidSeed, p.ID)
		}
		seenUsers[p.ID] = true
		data.Profiles = append(data.Profiles, p)
	}

	return data, nil
}

func (e ModuleEntry) module() (*course.Module, error) {
	m := &course.Module{
		ID:        shared.ModuleID(e.ID),
		SubjectID: shared.SubjectID(e.Subject),
		Title:     e.Title,
		Position:  e.Position,
		StartsAt:  e.StartsAt.UTC(),
		EndsAt:    e.EndsAt.UTC(),
	}
	if !m.ID.IsValid() {
		return nil, errors.New("id is required")
	}
	if !m.SubjectID.IsValid() {
		return nil, errors.New("subject is required")
	}
	if m.EndsAt.IsZero() && !m.StartsAt.IsZero() {
		m.EndsAt = m.StartsAt.AddDate(0, 0, 7*course.WeeksPerModule)
	}
	if !m.EndsAt.IsZero() && !m.EndsAt.After(m.StartsAt) {
		return nil, errors.New("endsAt must be after startsAt")
	}
	return m, nil
}

func (e UserEntry) profile() (*student.Profile, error) {
	role := shared.Role(e.Role)
	switch role {
	case "", shared.RoleStudent, shared.RoleTeacher:
	default:
		return nil, fmt.Errorf("unknown role %q", e.Role)
	}

	p, err := student.NewProfile(shared.StudentID(e.ID), e.DisplayName, e.Email, role)
	if err != nil {
		return nil, err
	}
	for _, s := range e.Subjects {
		p.SubjectIDs = append(p.SubjectIDs, shared.SubjectID(s))
	}
	return p, nil
}

// Apply writes the seed into the sinks, modules first.
func Apply(ctx context.Context, data *Data, modules ModuleSink, profiles ProfileSink) error {
	for _, m := range data.Modules {
		if err := modules.Upsert(ctx, m); err != nil {
			return fmt.Errorf("seed module %s: %w", m.ID, err)
		}
	}
	for _, p := range data.Profiles {
		if err := profiles.Upsert(ctx, p); err != nil {
			return fmt.Errorf("seed user %s: %w", p.ID, err)
		}
	}
	return nil
}
