package deck

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Template holds the static attributes of a card. Two templates with the same
// field values are the same card design.
type Template struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	Size        string `json:"size,omitempty"`
	Color       string `json:"color,omitempty"`
}

// Instance is one placeable copy of a template.
type Instance struct {
	InstanceID int      `json:"instanceId"`
	UniqueID   string   `json:"uniqueId"`
	Template   Template `json:"template"`
}

// NewInstance derives the instance identity from its template and ordinal.
func NewInstance(t Template, instanceID int) Instance {
	return Instance{InstanceID: instanceID, UniqueID: UniqueID(t, instanceID), Template: t}
}

// fields returns the non-empty "field:value" pairs of t, unsorted.
func (t Template) fields() []string {
	pairs := make([]string, 0, 6)
	add := func(name, value string) {
		if value != "" {
			pairs = append(pairs, name+":"+value)
		}
	}
	add("title", t.Title)
	add("description", t.Description)
	add("image", t.Image)
	add("emoji", t.Emoji)
	add("size", t.Size)
	add("color", t.Color)
	return pairs
}

// key is the canonical content key of the template, independent of field order.
func (t Template) key() string {
	pairs := t.fields()
	sort.Strings(pairs)
	return strings.Join(pairs, "|")
}

// UniqueID returns the content-derived identity of the instanceID-th copy of t.
// The same template content and ordinal always produce the same id.
func UniqueID(t Template, instanceID int) string {
	pairs := append(t.fields(), "instanceId:"+strconv.Itoa(instanceID))
	sort.Strings(pairs)
	sum := xxhash.Sum64String(strings.Join(pairs, "|"))
	return fmt.Sprintf("%016x_%d", sum, instanceID)
}
