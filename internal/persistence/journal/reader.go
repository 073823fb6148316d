package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrStop ends Walk early without error.
var ErrStop = errors.New("stop")

// ListFiles returns the journal files in dir, oldest first.
func ListFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, Prefix+"-") && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadFile calls fn for each line of one journal file.
func ReadFile(path string, fn func(Line) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var l Line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Walk reads every journal file in dir in order. Returning ErrStop from fn
// ends the walk cleanly.
func Walk(dir string, fn func(Line) error) error {
	files, err := ListFiles(dir)
	if err != nil {
		return err
	}
	for _, p := range files {
		if err := ReadFile(p, fn); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Summary aggregates a journal.
type Summary struct {
	Files      int
	Iterations int
	Events     int
	Matches    int
	// ByHandler counts acting handlers; ByOutcome counts iteration outcomes.
	ByHandler map[string]int
	ByOutcome map[string]int
	ByEvent   map[string]int
}

func Summarize(dir string) (Summary, error) {
	s := Summary{
		ByHandler: map[string]int{},
		ByOutcome: map[string]int{},
		ByEvent:   map[string]int{},
	}
	files, err := ListFiles(dir)
	if err != nil {
		return s, err
	}
	s.Files = len(files)
	err = Walk(dir, func(l Line) error {
		switch l.Type {
		case LineIteration:
			if l.Iteration == nil {
				return nil
			}
			s.Iterations++
			s.ByOutcome[string(l.Iteration.Outcome)]++
			if l.Iteration.Handler != "" {
				s.ByHandler[l.Iteration.Handler]++
			}
		case LineEvent:
			s.Events++
			if l.Event != nil {
				s.ByEvent[string(l.Event.Kind)]++
			}
		case LineMatch:
			s.Matches++
		}
		return nil
	})
	return s, err
}
