// Package models defines the core data structures for routinekit.
//
// It includes the immutable routine template model (phases, steps, triggers)
// and the mutable runtime instance aggregate shared across modules.
package models

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// OwnerID identifies the person a routine instance belongs to.
type OwnerID string

// TemplateID identifies a routine template. It is derived from the template's
// title and version so that re-parsing an unchanged template yields the same id.
type TemplateID string

// PhaseID identifies a phase within a template, derived from the phase title.
type PhaseID string

// StepID identifies a step within a phase, derived from the step description.
type StepID string

// InstanceID identifies one started routine of one owner.
type InstanceID string

// TriggerID identifies a trigger within a template. Unlike the other ids it is
// generated, not content-derived, because triggers carry no stable title.
type TriggerID string

// idSuffixLength is the fixed width of the hash suffix appended to slugs.
const idSuffixLength = 5

var slugStripPattern = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

// contentID builds a stable, human-readable id from free text: the text with
// all non-identifier characters removed, plus a fixed-width FNV hash suffix of
// the original text. Two distinct texts with the same normalized form still
// get distinct ids through the suffix.
func contentID(text string) string {
	h := fnv.New32a()
	h.Write([]byte(text))
	suffix := fmt.Sprintf("%08x", h.Sum32())
	suffix = suffix[len(suffix)-idSuffixLength:]
	slug := strings.TrimSpace(slugStripPattern.ReplaceAllString(text, ""))
	return strings.ToLower(slug + "-" + suffix)
}

var versionStripPattern = regexp.MustCompile(`[^a-zA-Z0-9-_.]`)

// TemplateIDFor derives the template id from title and version.
func TemplateIDFor(title, version string) TemplateID {
	v := strings.TrimSpace(versionStripPattern.ReplaceAllString(version, ""))
	return TemplateID(contentID(title) + ":" + strings.ToLower(v))
}

// PhaseIDFor derives the phase id from the phase title.
func PhaseIDFor(title string) PhaseID {
	return PhaseID(contentID(title))
}

// StepIDFor derives the step id from the step description.
func StepIDFor(description string) StepID {
	return StepID(contentID(description))
}

// NewInstanceID builds an instance id from the template, the owner and a
// random suffix, so one owner can restart the same routine later without an
// id collision.
func NewInstanceID(templateID TemplateID, owner OwnerID) InstanceID {
	suffix := uuid.NewString()[:8]
	return InstanceID(strings.ToLower(string(templateID) + ":" + string(owner) + ":" + suffix))
}

// NewTriggerID generates a fresh trigger id.
func NewTriggerID() TriggerID {
	return TriggerID(uuid.NewString()[:8])
}
