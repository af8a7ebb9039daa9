// Package store persists computed spectra under a base directory, one
// subdirectory per run: metadata.json with parameters and bulk
// results, phase.csv with the angle table when intensities were
// computed.
package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/atmret/mielab/internal/lognormal"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	N          float64   `json:"n"`
	Rm         float64   `json:"rm"`
	S          float64   `json:"s"`
	Wavenumber float64   `json:"wavenumber"`
	RefReal    float64   `json:"ref_real"`
	RefImag    float64   `json:"ref_imag"`

	Bext      float64 `json:"bext"`
	Bsca      float64 `json:"bsca"`
	DBextDN   float64 `json:"dbext_dn"`
	DBextDRm  float64 `json:"dbext_drm"`
	DBextDS   float64 `json:"dbext_ds"`
	DBscaDN   float64 `json:"dbsca_dn"`
	DBscaDRm  float64 `json:"dbsca_drm"`
	DBscaDS   float64 `json:"dbsca_ds"`
	Truncated bool    `json:"truncated"`

	Warnings []string `json:"warnings,omitempty"`
}

// Save writes one run and returns its generated ID. mu holds the
// angle cosines matching c.Intensity; both may be empty.
func (s *Store) Save(p lognormal.Params, c *lognormal.Coefficients, mu []float64) (string, error) {
	runID := fmt.Sprintf("run_%d", time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:         runID,
		Timestamp:  time.Now(),
		N:          p.N,
		Rm:         p.Rm,
		S:          p.S,
		Wavenumber: p.Wavenumber,
		RefReal:    real(p.RefIndex),
		RefImag:    imag(p.RefIndex),
		Bext:       c.Bext,
		Bsca:       c.Bsca,
		DBextDN:    c.DBextDN,
		DBextDRm:   c.DBextDRm,
		DBextDS:    c.DBextDS,
		DBscaDN:    c.DBscaDN,
		DBscaDRm:   c.DBscaDRm,
		DBscaDS:    c.DBscaDS,
		Truncated:  c.Truncated,
		Warnings:   c.Warnings,
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	if c.Intensity != nil && len(mu) > 0 {
		if err := s.savePhase(runDir, mu, c.Intensity); err != nil {
			return "", err
		}
	}
	return runID, nil
}

func (s *Store) savePhase(runDir string, mu []float64, in *lognormal.Intensity) error {
	f, err := os.Create(filepath.Join(runDir, "phase.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"mu", "i1", "i2", "di1_dn", "di1_drm", "di1_ds", "di2_dn", "di2_drm", "di2_ds"}
	if err := w.Write(header); err != nil {
		return err
	}

	for i := range mu {
		row := make([]string, 0, len(header))
		for _, v := range []float64{
			mu[i], in.I1[i], in.I2[i],
			in.DI1DN[i], in.DI1DRm[i], in.DI1DS[i],
			in.DI2DN[i], in.DI2DRm[i], in.DI2DS[i],
		} {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadPhase reads back the angle table of a run. Returns the cosines
// and the i1/i2 columns; derivative columns are skipped.
func (s *Store) LoadPhase(runID string) (mu, i1, i2 []float64, err error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, "phase.csv"))
	if err != nil {
		return nil, nil, nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, nil, nil
	}

	for _, rec := range records[1:] {
		if len(rec) < 3 {
			return nil, nil, nil, fmt.Errorf("store: malformed phase row: %v", rec)
		}
		vals := make([]float64, 3)
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, nil, nil, err
			}
			vals[i] = v
		}
		mu = append(mu, vals[0])
		i1 = append(i1, vals[1])
		i2 = append(i2, vals[2])
	}
	return mu, i1, i2, nil
}

// ExportJSON writes one run's metadata and phase table to path as a
// single document.
func (s *Store) ExportJSON(runID, path string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}

	doc := struct {
		RunMetadata
		Mu []float64 `json:"mu,omitempty"`
		I1 []float64 `json:"i1,omitempty"`
		I2 []float64 `json:"i2,omitempty"`
	}{RunMetadata: *meta}

	if mu, i1, i2, err := s.LoadPhase(runID); err == nil {
		doc.Mu, doc.I1, doc.I2 = mu, i1, i2
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
