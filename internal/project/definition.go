// Package project exposes the per-project structure the consistency engine
// needs: the ordered form hierarchy, each form's branch inputs, and input
// metadata (types, datetime formats, uniqueness rules).
package project

import (
	"encoding/json"
	"fmt"
)

const (
	TypeText     = "text"
	TypeInteger  = "integer"
	TypeDate     = "date"
	TypeTime     = "time"
	TypePhoto    = "photo"
	TypeAudio    = "audio"
	TypeVideo    = "video"
	TypeLocation = "location"
	TypeBranch   = "branch"
)

const (
	UniquenessNone      = ""
	UniquenessForm      = "form"
	UniquenessHierarchy = "hierarchy"
)

type Input struct {
	Ref            string `json:"ref"`
	Type           string `json:"type"`
	DatetimeFormat string `json:"datetime_format,omitempty"`
	Uniqueness     string `json:"uniqueness,omitempty"`
}

type Branch struct {
	Ref    string  `json:"ref"`
	Inputs []Input `json:"inputs"`
}

type Form struct {
	Ref      string   `json:"ref"`
	Name     string   `json:"name"`
	Inputs   []Input  `json:"inputs"`
	Branches []Branch `json:"branches,omitempty"`
}

// Definition is a project's form hierarchy. Forms are ordered: each form's
// immediate child is the next form in the slice.
type Definition struct {
	Forms []Form `json:"forms"`
}

func Parse(raw []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse project definition: %w", err)
	}
	if len(def.Forms) == 0 {
		return nil, fmt.Errorf("parse project definition: no forms")
	}
	return &def, nil
}

func (d *Definition) FirstFormRef() string {
	return d.Forms[0].Ref
}

// Depth is the number of forms, bounding any descendant walk.
func (d *Definition) Depth() int {
	return len(d.Forms)
}

func (d *Definition) HasChildForms() bool {
	return len(d.Forms) > 1
}

func (d *Definition) FormIndex(formRef string) int {
	for i := range d.Forms {
		if d.Forms[i].Ref == formRef {
			return i
		}
	}
	return -1
}

func (d *Definition) Form(formRef string) *Form {
	if i := d.FormIndex(formRef); i >= 0 {
		return &d.Forms[i]
	}
	return nil
}

// ChildFormRef returns the ref of the immediate child form, or empty when
// the form is the last in the hierarchy or unknown.
func (d *Definition) ChildFormRef(formRef string) string {
	i := d.FormIndex(formRef)
	if i < 0 || i+1 >= len(d.Forms) {
		return ""
	}
	return d.Forms[i+1].Ref
}

// Input locates an input by ref on a form or on any of its branches.
func (d *Definition) Input(formRef, inputRef string) *Input {
	form := d.Form(formRef)
	if form == nil {
		return nil
	}
	for i := range form.Inputs {
		if form.Inputs[i].Ref == inputRef {
			return &form.Inputs[i]
		}
	}
	for b := range form.Branches {
		for i := range form.Branches[b].Inputs {
			if form.Branches[b].Inputs[i].Ref == inputRef {
				return &form.Branches[b].Inputs[i]
			}
		}
	}
	return nil
}

func (f *Form) BranchRefs() []string {
	refs := make([]string, 0, len(f.Branches))
	for i := range f.Branches {
		refs = append(refs, f.Branches[i].Ref)
	}
	return refs
}

func (f *Form) Branch(ref string) *Branch {
	for i := range f.Branches {
		if f.Branches[i].Ref == ref {
			return &f.Branches[i]
		}
	}
	return nil
}

// MediaInputRefs lists the form's own photo/audio/video input refs.
func (f *Form) MediaInputRefs() []string {
	refs := make([]string, 0)
	for i := range f.Inputs {
		if IsMediaType(f.Inputs[i].Type) {
			refs = append(refs, f.Inputs[i].Ref)
		}
	}
	return refs
}

func (b *Branch) MediaInputRefs() []string {
	refs := make([]string, 0)
	for i := range b.Inputs {
		if IsMediaType(b.Inputs[i].Type) {
			refs = append(refs, b.Inputs[i].Ref)
		}
	}
	return refs
}

func IsMediaType(inputType string) bool {
	switch inputType {
	case TypePhoto, TypeAudio, TypeVideo:
		return true
	}
	return false
}
