package settings

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// A FileStore is a MemStore saved to a JSON file after every change.
// The file is replaced atomically.
type FileStore struct {
	MemStore
	path string
}

// OpenFileStore loads the store at path. A missing file is an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	fs.s = &structpb.Struct{Fields: map[string]*structpb.Value{}}
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrap(err, "read settings")
	default:
		if err := protojson.Unmarshal(b, fs.s); err != nil {
			return nil, errors.Wrapf(err, "parse settings %s", path)
		}
		if fs.s.Fields == nil {
			fs.s.Fields = map[string]*structpb.Value{}
		}
	}
	fs.persist = fs.save
	return fs, nil
}

// Path returns the file the store is saved to.
func (fs *FileStore) Path() string { return fs.path }

func (fs *FileStore) save(s *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "save settings")
	}
	f, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return errors.Wrap(err, "save settings")
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "save settings")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "save settings")
	}
	return errors.Wrap(os.Rename(tmp, fs.path), "save settings")
}
