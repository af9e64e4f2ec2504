package domain

import (
	"strings"
	"time"
)

// CurriculumLevel is the rank a curriculum item belongs to
type CurriculumLevel string

const (
	LevelRamu  CurriculumLevel = "RAMU"
	LevelRakit CurriculumLevel = "RAKIT"
	LevelTerap CurriculumLevel = "TERAP"
)

// IsValid reports whether l is a known curriculum level
func (l CurriculumLevel) IsValid() bool {
	switch l {
	case LevelRamu, LevelRakit, LevelTerap:
		return true
	}
	return false
}

// ParseCurriculumLevel parses a curriculum level case-insensitively
func ParseCurriculumLevel(s string) (CurriculumLevel, error) {
	l := CurriculumLevel(strings.ToUpper(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", ErrInvalidCurriculumLevel
	}
	return l, nil
}

// Category groups curriculum items
type Category string

const (
	CategorySpiritual    Category = "SPIRITUAL"
	CategoryEmotional    Category = "EMOTIONAL"
	CategorySocial       Category = "SOCIAL"
	CategoryIntellectual Category = "INTELLECTUAL"
	CategoryPhysical     Category = "PHYSICAL"
)

// Categories lists every category in display order
var Categories = []Category{
	CategorySpiritual,
	CategoryEmotional,
	CategorySocial,
	CategoryIntellectual,
	CategoryPhysical,
}

// IsValid reports whether c is a known category
func (c Category) IsValid() bool {
	switch c {
	case CategorySpiritual, CategoryEmotional, CategorySocial, CategoryIntellectual, CategoryPhysical:
		return true
	}
	return false
}

// ParseCategory parses a category case-insensitively
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// CompositeItemNumber is the SPIRITUAL item whose completion depends on religion-specific sub-items
const CompositeItemNumber = 4

// CurriculumItem is read-only reference data describing one requirement
type CurriculumItem struct {
	ID               string          `json:"id" yaml:"id"`
	Level            CurriculumLevel `json:"level" yaml:"level"`
	Category         Category        `json:"category" yaml:"category"`
	ItemNumber       int             `json:"item_number" yaml:"item_number"`
	ReligiousSubtype string          `json:"religious_subtype,omitempty" yaml:"religious_subtype"`
	Title            string          `json:"title,omitempty" yaml:"title"`
}

// IsComposite reports whether the item is a sub-item of the SPIRITUAL composite point
func (i CurriculumItem) IsComposite() bool {
	return i.Category == CategorySpiritual && i.ItemNumber == CompositeItemNumber
}

// SubmissionStatus is the verification state of a submission
type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "PENDING"
	StatusVerified SubmissionStatus = "VERIFIED"
)

// SubmissionRecord is a member's claim of having completed a curriculum item
type SubmissionRecord struct {
	ID               string           `json:"id"`
	MemberID         string           `json:"member_id"`
	ItemID           string           `json:"item_id,omitempty"`
	Level            CurriculumLevel  `json:"level"`
	Category         Category         `json:"category"`
	ItemNumber       int              `json:"item_number"`
	ReligiousSubtype string           `json:"religious_subtype,omitempty"`
	Status           SubmissionStatus `json:"status"`
	SubmittedAt      time.Time        `json:"submitted_at"`
	VerifiedAt       time.Time        `json:"verified_at,omitempty"`
	VerifiedBy       string           `json:"verified_by,omitempty"`
}

// IsVerified reports whether the record was approved by a supervisor
func (s SubmissionRecord) IsVerified() bool {
	return s.Status == StatusVerified
}

// BadgeTier classifies a category's completion percentage
type BadgeTier string

const (
	TierGold   BadgeTier = "GOLD"
	TierSilver BadgeTier = "SILVER"
	TierBronze BadgeTier = "BRONZE"
	TierNone   BadgeTier = "NONE"
)

// CategoryState is the live completion state of one category
type CategoryState struct {
	Category     Category  `json:"category"`
	CurrentCount int       `json:"current_count"`
	Total        int       `json:"total"`
	Percentage   float64   `json:"percentage"`
	Tier         BadgeTier `json:"tier"`
}

// BadgeSummary is the aggregated badge state of a member
type BadgeSummary struct {
	MemberID          string          `json:"member_id"`
	TargetLevel       CurriculumLevel `json:"target_level"`
	Categories        []CategoryState `json:"categories"`
	ReadyForPromotion bool            `json:"ready_for_promotion"`
}
