// Copyright 2025 OpenLabel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backup

import (
	"fmt"
	"regexp"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// Mapping is the bidirectional label and attribute translation built once
// per export or import. Ids are database-local; names are the portable
// identity an archive carries. Label names are parent-qualified so sibling
// sublabels of different skeletons never collide.
type Mapping struct {
	labelNameByID map[int64]string
	attrNameByID  map[int64]string
	labelIDByName map[string]int64
	// attrIDByName is keyed by qualified label name, then attribute name.
	attrIDByName map[string]map[string]int64
}

// MappingBuilder accumulates labels as they are walked or created. Parents
// must be added before their children so qualification can resolve.
type MappingBuilder struct {
	mapping *Mapping
	nameByI map[int64]string // unqualified helper for parent lookups
}

func NewMappingBuilder() *MappingBuilder {
	return &MappingBuilder{
		mapping: &Mapping{
			labelNameByID: make(map[int64]string),
			attrNameByID:  make(map[int64]string),
			labelIDByName: make(map[string]int64),
			attrIDByName:  make(map[string]map[string]int64),
		},
		nameByI: make(map[int64]string),
	}
}

// Add registers one label and its attribute specs.
//
// Inputs:
//   - label: the label row; ParentID zero for roots.
//   - attrs: the label's attribute specifications.
//
// Outputs:
//   - An error when the parent has not been added yet or the qualified name
//     is already taken.
func (b *MappingBuilder) Add(label *model.Label, attrs []*model.Attribute) error {
	qualified := label.Name
	if label.ParentID != 0 {
		parent, ok := b.nameByI[label.ParentID]
		if !ok {
			return fmt.Errorf("label %q added before its parent", label.Name)
		}
		qualified = parent + "/" + label.Name
	}
	if _, taken := b.mapping.labelIDByName[qualified]; taken {
		return model.NewValidationError("duplicate label name %q", qualified)
	}

	b.nameByI[label.ID] = qualified
	b.mapping.labelNameByID[label.ID] = qualified
	b.mapping.labelIDByName[qualified] = label.ID
	b.mapping.attrIDByName[qualified] = make(map[string]int64, len(attrs))
	for _, attr := range attrs {
		b.mapping.attrNameByID[attr.ID] = attr.Name
		b.mapping.attrIDByName[qualified][attr.Name] = attr.ID
	}
	return nil
}

// Build finalizes the mapping.
func (b *MappingBuilder) Build() *Mapping {
	return b.mapping
}

// LabelName resolves a database id to its portable name.
func (m *Mapping) LabelName(id int64) (string, bool) {
	name, ok := m.labelNameByID[id]
	return name, ok
}

// LabelID resolves a portable name back to a database id.
func (m *Mapping) LabelID(name string) (int64, bool) {
	id, ok := m.labelIDByName[name]
	return id, ok
}

// svgLabelID matches the sublabel id references inside a skeleton template.
var svgLabelID = regexp.MustCompile(`data-label-id="(\d+)"`)

// svgLabelName matches the portable form written by SVGIDsToNames.
var svgLabelName = regexp.MustCompile(`data-label-name="([^"]*)"`)

// SVGIDsToNames rewrites sublabel id references to name references for
// export. An id with no mapping is left untouched; the importer will reject
// it, which beats silently exporting a dangling reference.
func (m *Mapping) SVGIDsToNames(svg string) string {
	return svgLabelID.ReplaceAllStringFunc(svg, func(match string) string {
		var id int64
		fmt.Sscanf(svgLabelID.FindStringSubmatch(match)[1], "%d", &id)
		name, ok := m.labelNameByID[id]
		if !ok {
			return match
		}
		return fmt.Sprintf("data-label-name=%q", name)
	})
}

// SVGNamesToIDs rewrites portable name references back to the freshly
// assigned ids during import. An unknown name is a hard failure: the
// skeleton would otherwise point at nothing.
func (m *Mapping) SVGNamesToIDs(svg string) (string, error) {
	var firstErr error
	out := svgLabelName.ReplaceAllStringFunc(svg, func(match string) string {
		name := svgLabelName.FindStringSubmatch(match)[1]
		id, ok := m.labelIDByName[name]
		if !ok {
			if firstErr == nil {
				firstErr = model.NewImportFormatError("skeleton references unknown label %q", name)
			}
			return match
		}
		return fmt.Sprintf(`data-label-id="%d"`, id)
	})
	return out, firstErr
}

// AnnotationsToNames rewrites every label and attribute id in the payload
// to its portable name, recursively through skeleton elements and track
// keyframes. The id fields are zeroed so the archive never leaks them.
func (m *Mapping) AnnotationsToNames(a *model.JobAnnotations) error {
	for i := range a.Tags {
		if err := m.tagToNames(&a.Tags[i]); err != nil {
			return err
		}
	}
	for i := range a.Shapes {
		if err := m.shapeToNames(&a.Shapes[i]); err != nil {
			return err
		}
	}
	for i := range a.Tracks {
		if err := m.trackToNames(&a.Tracks[i]); err != nil {
			return err
		}
	}
	return nil
}

// AnnotationsToIDs is the import direction. An unknown label or attribute
// name fails the whole payload.
func (m *Mapping) AnnotationsToIDs(a *model.JobAnnotations) error {
	for i := range a.Tags {
		if err := m.tagToIDs(&a.Tags[i]); err != nil {
			return err
		}
	}
	for i := range a.Shapes {
		if err := m.shapeToIDs(&a.Shapes[i]); err != nil {
			return err
		}
	}
	for i := range a.Tracks {
		if err := m.trackToIDs(&a.Tracks[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapping) labelToName(id int64) (string, error) {
	name, ok := m.labelNameByID[id]
	if !ok {
		return "", model.NewValidationError("annotation references unknown label id %d", id)
	}
	return name, nil
}

func (m *Mapping) attrsToNames(values []model.AttributeValue) error {
	for i := range values {
		name, ok := m.attrNameByID[values[i].SpecID]
		if !ok {
			return model.NewValidationError("annotation references unknown attribute id %d", values[i].SpecID)
		}
		values[i].Spec = name
		values[i].SpecID = 0
	}
	return nil
}

func (m *Mapping) attrsToIDs(labelName string, values []model.AttributeValue) error {
	byName := m.attrIDByName[labelName]
	for i := range values {
		id, ok := byName[values[i].Spec]
		if !ok {
			return model.NewImportFormatError("label %q has no attribute %q", labelName, values[i].Spec)
		}
		values[i].SpecID = id
		values[i].Spec = ""
	}
	return nil
}

func (m *Mapping) tagToNames(t *model.Tag) error {
	name, err := m.labelToName(t.LabelID)
	if err != nil {
		return err
	}
	if err := m.attrsToNames(t.Attributes); err != nil {
		return err
	}
	t.Label, t.LabelID = name, 0
	return nil
}

func (m *Mapping) tagToIDs(t *model.Tag) error {
	id, ok := m.labelIDByName[t.Label]
	if !ok {
		return model.NewImportFormatError("annotation references unknown label %q", t.Label)
	}
	if err := m.attrsToIDs(t.Label, t.Attributes); err != nil {
		return err
	}
	t.LabelID, t.Label = id, ""
	return nil
}

func (m *Mapping) shapeToNames(s *model.Shape) error {
	name, err := m.labelToName(s.LabelID)
	if err != nil {
		return err
	}
	if err := m.attrsToNames(s.Attributes); err != nil {
		return err
	}
	for i := range s.Elements {
		if err := m.shapeToNames(&s.Elements[i]); err != nil {
			return err
		}
	}
	s.Label, s.LabelID = name, 0
	return nil
}

func (m *Mapping) shapeToIDs(s *model.Shape) error {
	id, ok := m.labelIDByName[s.Label]
	if !ok {
		return model.NewImportFormatError("annotation references unknown label %q", s.Label)
	}
	if err := m.attrsToIDs(s.Label, s.Attributes); err != nil {
		return err
	}
	for i := range s.Elements {
		if err := m.shapeToIDs(&s.Elements[i]); err != nil {
			return err
		}
	}
	s.LabelID, s.Label = id, ""
	return nil
}

func (m *Mapping) trackToNames(t *model.Track) error {
	name, err := m.labelToName(t.LabelID)
	if err != nil {
		return err
	}
	if err := m.attrsToNames(t.Attributes); err != nil {
		return err
	}
	for i := range t.Shapes {
		// Keyframe shapes inherit the track's label; only their
		// attributes need translating.
		if err := m.attrsToNames(t.Shapes[i].Attributes); err != nil {
			return err
		}
		t.Shapes[i].LabelID = 0
	}
	for i := range t.Elements {
		if err := m.trackToNames(&t.Elements[i]); err != nil {
			return err
		}
	}
	t.Label, t.LabelID = name, 0
	return nil
}

func (m *Mapping) trackToIDs(t *model.Track) error {
	id, ok := m.labelIDByName[t.Label]
	if !ok {
		return model.NewImportFormatError("annotation references unknown label %q", t.Label)
	}
	if err := m.attrsToIDs(t.Label, t.Attributes); err != nil {
		return err
	}
	for i := range t.Shapes {
		if err := m.attrsToIDs(t.Label, t.Shapes[i].Attributes); err != nil {
			return err
		}
		t.Shapes[i].LabelID = id
	}
	for i := range t.Elements {
		if err := m.trackToIDs(&t.Elements[i]); err != nil {
			return err
		}
	}
	t.LabelID, t.Label = id, ""
	return nil
}
