package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"sheriff/internal/strategist"
)

// SignOffFileName is the sealed delivery record written at the project root.
const SignOffFileName = "SIGN_OFF.json"

// LocalApproval is the evidence block from the two local tiers.
type LocalApproval struct {
	StaticPassed  bool    `json:"static_passed"`
	DynamicPassed bool    `json:"dynamic_passed"`
	QualityScore  float64 `json:"quality_score"`
	Coverage      float64 `json:"coverage"`
	CoreCoverage  float64 `json:"core_coverage"`
}

// SemanticApproval is the evidence block from the remote review tier.
type SemanticApproval struct {
	Approved   bool     `json:"approved"`
	LogicScore float64  `json:"logic_score"`
	Comments   []string `json:"comments,omitempty"`
}

// SignOffRecord is the final, immutable delivery artifact. Any later change
// to a delivered file is detected by Merkle root recomputation, which voids
// the record.
type SignOffRecord struct {
	ProjectID  string            `json:"project_id"`
	Version    string            `json:"version"`
	FileHashes map[string]string `json:"file_hashes"`
	MerkleRoot string            `json:"merkle_root"`

	Local    LocalApproval    `json:"local_approval"`
	Semantic SemanticApproval `json:"semantic_approval"`

	DeliveryApproved bool      `json:"delivery_approved"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewSignOffRecord seals the approved delivery. Only called after all three
// tiers passed, so delivery_approved is true by construction.
func NewSignOffRecord(projectID, version string, files map[string]string,
	static *StaticReport, dynamic *DynamicReport, verdict strategist.ReviewVerdict) *SignOffRecord {

	hashes := HashFiles(files)
	return &SignOffRecord{
		ProjectID:  projectID,
		Version:    version,
		FileHashes: hashes,
		MerkleRoot: MerkleRoot(hashes),
		Local: LocalApproval{
			StaticPassed:  static.Passed,
			DynamicPassed: dynamic.Passed,
			QualityScore:  static.QualityScore,
			Coverage:      dynamic.Coverage,
			CoreCoverage:  dynamic.CoreCoverage,
		},
		Semantic: SemanticApproval{
			Approved:   verdict.Approved,
			LogicScore: verdict.LogicScore,
			Comments:   verdict.Comments,
		},
		DeliveryApproved: true,
		Timestamp:        time.Now().UTC(),
	}
}

// Write persists the record at the project root.
func (r *SignOffRecord) Write(dir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SignOffFileName), data, 0644)
}

// LoadSignOff reads a sealed record from the project root.
func LoadSignOff(dir string) (*SignOffRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, SignOffFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read sign-off: %w", err)
	}
	var rec SignOffRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt sign-off record: %w", err)
	}
	return &rec, nil
}

// IntegrityError describes a detected post-sign-off mutation.
type IntegrityError struct {
	ExpectedRoot  string
	ActualRoot    string
	ChangedFiles  []string
	MissingFiles  []string
	UnlistedFiles []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: merkle root %s != recorded %s (%d changed, %d missing, %d unlisted)",
		e.ActualRoot, e.ExpectedRoot, len(e.ChangedFiles), len(e.MissingFiles), len(e.UnlistedFiles))
}

// VerifyIntegrity recomputes the Merkle root over the current file set and
// compares it to the recorded root. A mismatch voids the sign-off.
func VerifyIntegrity(dir string, rec *SignOffRecord) error {
	files, err := CollectFiles(dir)
	if err != nil {
		return fmt.Errorf("failed to collect files: %w", err)
	}

	hashes := HashFiles(files)
	root := MerkleRoot(hashes)
	if root == rec.MerkleRoot {
		return nil
	}

	ie := &IntegrityError{ExpectedRoot: rec.MerkleRoot, ActualRoot: root}
	for path, recorded := range rec.FileHashes {
		current, ok := hashes[path]
		if !ok {
			ie.MissingFiles = append(ie.MissingFiles, path)
			continue
		}
		if current != recorded {
			ie.ChangedFiles = append(ie.ChangedFiles, path)
		}
	}
	for path := range hashes {
		if _, ok := rec.FileHashes[path]; !ok {
			ie.UnlistedFiles = append(ie.UnlistedFiles, path)
		}
	}
	sort.Strings(ie.ChangedFiles)
	sort.Strings(ie.MissingFiles)
	sort.Strings(ie.UnlistedFiles)
	return ie
}
