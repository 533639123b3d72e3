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

// Label and attribute vocabulary operations.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// CreateLabel inserts a label row and returns its id.
func (q *Queries) CreateLabel(ctx context.Context, l *model.Label) (int64, error) {
	res, err := q.dbtx.ExecContext(ctx,
		`INSERT INTO labels (task_id, project_id, parent_id, name, color, type, svg)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.TaskID, l.ProjectID, l.ParentID, l.Name, l.Color, l.Type, l.SVG)
	if err != nil {
		return 0, fmt.Errorf("insert label %q: %w", l.Name, err)
	}
	l.ID, err = res.LastInsertId()
	return l.ID, err
}

// CreateAttribute inserts an attribute specification under a label.
func (q *Queries) CreateAttribute(ctx context.Context, a *model.Attribute) (int64, error) {
	values, err := json.Marshal(a.Values)
	if err != nil {
		return 0, err
	}
	if a.Values == nil {
		values = []byte("[]")
	}
	res, err := q.dbtx.ExecContext(ctx,
		`INSERT INTO attributes (label_id, name, mutable, input_type, default_value, values_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.LabelID, a.Name, a.Mutable, a.InputType, a.DefaultValue, string(values))
	if err != nil {
		return 0, fmt.Errorf("insert attribute %q: %w", a.Name, err)
	}
	a.ID, err = res.LastInsertId()
	return a.ID, err
}

// ListLabels returns the label tree of a task or project in creation order.
// Exactly one of taskID and projectID should be non-zero.
func (q *Queries) ListLabels(ctx context.Context, taskID, projectID int64) ([]*model.Label, error) {
	rows, err := q.dbtx.QueryContext(ctx,
		`SELECT id, task_id, project_id, parent_id, name, color, type, svg
		 FROM labels WHERE task_id = ? AND project_id = ? ORDER BY id`, taskID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Label
	for rows.Next() {
		l := &model.Label{}
		if err := rows.Scan(&l.ID, &l.TaskID, &l.ProjectID, &l.ParentID, &l.Name, &l.Color, &l.Type, &l.SVG); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListAttributes returns the attribute specifications of one label.
func (q *Queries) ListAttributes(ctx context.Context, labelID int64) ([]*model.Attribute, error) {
	rows, err := q.dbtx.QueryContext(ctx,
		`SELECT id, label_id, name, mutable, input_type, default_value, values_json
		 FROM attributes WHERE label_id = ? ORDER BY id`, labelID)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Attribute
	for rows.Next() {
		a := &model.Attribute{}
		var values string
		if err := rows.Scan(&a.ID, &a.LabelID, &a.Name, &a.Mutable, &a.InputType, &a.DefaultValue, &values); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(values), &a.Values); err != nil {
			return nil, fmt.Errorf("decode values of attribute %d: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateLabelSVG rewrites the skeleton template of a label. Restore uses this
// after label ids are known to repoint sublabel references.
func (q *Queries) UpdateLabelSVG(ctx context.Context, labelID int64, svg string) error {
	_, err := q.dbtx.ExecContext(ctx, `UPDATE labels SET svg = ? WHERE id = ?`, svg, labelID)
	if err != nil {
		return fmt.Errorf("update svg of label %d: %w", labelID, err)
	}
	return nil
}
