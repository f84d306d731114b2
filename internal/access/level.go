package access

import (
	"errors"
	"fmt"
	"strings"
)

// Level is a project permission level. Levels form a total order:
// viewer < editor < admin < owner.
type Level string

const (
	LevelViewer Level = "viewer"
	LevelEditor Level = "editor"
	LevelAdmin  Level = "admin"
	LevelOwner  Level = "owner"
)

// ErrInvalidLevel indicates an unrecognized or unassignable permission level.
var ErrInvalidLevel = errors.New("access: invalid permission level")

var levelRanks = map[Level]int{
	LevelViewer: 1,
	LevelEditor: 2,
	LevelAdmin:  3,
	LevelOwner:  4,
}

// Rank returns the position of the level in the total order, 0 for unknown values.
func (l Level) Rank() int {
	return levelRanks[l]
}

// Valid reports whether the level is one of the four known levels.
func (l Level) Valid() bool {
	return l.Rank() > 0
}

// String returns the wire representation of the level.
func (l Level) String() string {
	return string(l)
}

// Authorize reports whether an actor holding actorLevel may perform an
// operation requiring requiredLevel. Unknown levels never authorize.
func Authorize(actorLevel, requiredLevel Level) bool {
	actorRank := actorLevel.Rank()
	requiredRank := requiredLevel.Rank()
	if actorRank == 0 || requiredRank == 0 {
		return false
	}
	return actorRank >= requiredRank
}

// CanManageCollaborators reports whether the level may invite, update, or
// revoke collaborators and manage share links.
func CanManageCollaborators(level Level) bool {
	return level == LevelAdmin || level == LevelOwner
}

// ParseLevel validates raw input against the four known levels.
func ParseLevel(raw string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(raw)))
	if !level.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, raw)
	}
	return level, nil
}

// ParseAssignable validates a level that may be granted to a collaborator.
// The owner level is held solely by the project owner and is never assignable.
func ParseAssignable(raw string) (Level, error) {
	level, err := ParseLevel(raw)
	if err != nil {
		return "", err
	}
	if level == LevelOwner {
		return "", fmt.Errorf("%w: owner is not assignable", ErrInvalidLevel)
	}
	return level, nil
}

// ParseLinkLevel validates a level that a share link may grant. Links are
// anonymous grants and never confer management rights.
func ParseLinkLevel(raw string) (Level, error) {
	level, err := ParseLevel(raw)
	if err != nil {
		return "", err
	}
	if level != LevelViewer && level != LevelEditor {
		return "", fmt.Errorf("%w: share links grant viewer or editor only", ErrInvalidLevel)
	}
	return level, nil
}
