package backend

import "time"

// Fake is an in-memory Backend implementation for unit tests.
type Fake struct {
	Label     string
	Available bool
	Backups   map[string]Metadata
	Files     map[string][]FileEntry
	Usage     StorageUsage

	// ConnErr, when set, is returned from TestConnection.
	ConnErr error
}

// NewFake returns an available fake backend with no backups.
func NewFake(label string) *Fake {
	return &Fake{
		Label:     label,
		Available: true,
		Backups:   map[string]Metadata{},
		Files:     map[string][]FileEntry{},
	}
}

func (f *Fake) Name() string          { return f.Label }
func (f *Fake) IsAvailable() bool     { return f.Available }
func (f *Fake) TestConnection() error { return f.ConnErr }

func (f *Fake) ListBackups() ([]Metadata, error) {
	out := make([]Metadata, 0, len(f.Backups))
	for _, m := range f.Backups {
		out = append(out, m)
	}
	SortBackups(out)
	return out, nil
}

func (f *Fake) CreateBackup(sources []string, name string, typ BackupType, compression Compression, encrypt bool, progress ProgressFunc) (Metadata, error) {
	m := Metadata{
		ID:          NewID(time.Now()),
		Name:        name,
		Timestamp:   time.Now().UTC(),
		BackupType:  typ,
		Compression: compression,
		Encrypted:   encrypt,
		Tags:        []string{},
	}
	f.Backups[m.ID] = m
	progress.Report(Progress{CurrentFile: "Complete", Phase: PhaseComplete})
	return m, nil
}

func (f *Fake) RestoreBackup(id string, destination string, files []string, progress ProgressFunc) error {
	if _, ok := f.Backups[id]; !ok {
		return ErrNotFound
	}
	progress.Report(Progress{CurrentFile: "Complete", Phase: PhaseComplete})
	return nil
}

func (f *Fake) DeleteBackup(id string) error {
	if _, ok := f.Backups[id]; !ok {
		return ErrNotFound
	}
	delete(f.Backups, id)
	return nil
}

func (f *Fake) VerifyBackup(id string) (bool, error) {
	_, ok := f.Backups[id]
	return ok, nil
}

func (f *Fake) GetBackup(id string) (*Metadata, error) {
	m, ok := f.Backups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (f *Fake) ListFiles(id string, path string) ([]FileEntry, error) {
	if _, ok := f.Backups[id]; !ok {
		return nil, ErrNotFound
	}
	entries := append([]FileEntry(nil), f.Files[id]...)
	SortFileEntries(entries)
	return entries, nil
}

func (f *Fake) GetStorageUsage() (StorageUsage, error) {
	u := f.Usage
	u.BackupCount = uint64(len(f.Backups))
	return u, nil
}
