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

// Image, video and related-file row operations. Frame rows are written in
// bulk at the end of ingestion and read back in frame order everywhere else.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// InsertImages writes the frame rows of one data set and fills in their ids.
func (q *Queries) InsertImages(ctx context.Context, images []*model.Image) error {
	for _, img := range images {
		res, err := q.dbtx.ExecContext(ctx,
			`INSERT INTO images (data_id, path, frame, width, height) VALUES (?, ?, ?, ?, ?)`,
			img.DataID, img.Path, img.Frame, img.Width, img.Height)
		if err != nil {
			return fmt.Errorf("insert image %q: %w", img.Path, err)
		}
		img.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertVideo writes the single media row of a sequence data set.
func (q *Queries) InsertVideo(ctx context.Context, v *model.Video) error {
	res, err := q.dbtx.ExecContext(ctx,
		`INSERT INTO videos (data_id, path, width, height) VALUES (?, ?, ?, ?)`,
		v.DataID, v.Path, v.Width, v.Height)
	if err != nil {
		return fmt.Errorf("insert video %q: %w", v.Path, err)
	}
	v.ID, err = res.LastInsertId()
	return err
}

// InsertRelatedFiles attaches companion rows to their primary frames.
func (q *Queries) InsertRelatedFiles(ctx context.Context, files []*model.RelatedFile) error {
	for _, f := range files {
		res, err := q.dbtx.ExecContext(ctx,
			`INSERT INTO related_files (data_id, primary_image, path) VALUES (?, ?, ?)`,
			f.DataID, f.PrimaryImage, f.Path)
		if err != nil {
			return fmt.Errorf("insert related file %q: %w", f.Path, err)
		}
		f.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	}
	return nil
}

// ListImages returns the frame rows of a data set in frame order.
func (q *Queries) ListImages(ctx context.Context, dataID int64) ([]*model.Image, error) {
	rows, err := q.dbtx.QueryContext(ctx,
		`SELECT id, data_id, path, frame, width, height FROM images WHERE data_id = ? ORDER BY frame`,
		dataID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Image
	for rows.Next() {
		img := &model.Image{}
		if err := rows.Scan(&img.ID, &img.DataID, &img.Path, &img.Frame, &img.Width, &img.Height); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// GetVideo loads the video row of a sequence data set.
func (q *Queries) GetVideo(ctx context.Context, dataID int64) (*model.Video, error) {
	v := &model.Video{}
	err := q.dbtx.QueryRowContext(ctx,
		`SELECT id, data_id, path, width, height FROM videos WHERE data_id = ?`, dataID).
		Scan(&v.ID, &v.DataID, &v.Path, &v.Width, &v.Height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select video of data %d: %w", dataID, err)
	}
	return v, nil
}

// ListRelated returns the companion rows of a data set keyed by their primary
// frame row id.
func (q *Queries) ListRelated(ctx context.Context, dataID int64) (map[int64][]*model.RelatedFile, error) {
	rows, err := q.dbtx.QueryContext(ctx,
		`SELECT id, data_id, primary_image, path FROM related_files WHERE data_id = ? ORDER BY id`,
		dataID)
	if err != nil {
		return nil, fmt.Errorf("list related files: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int64][]*model.RelatedFile)
	for rows.Next() {
		f := &model.RelatedFile{}
		if err := rows.Scan(&f.ID, &f.DataID, &f.PrimaryImage, &f.Path); err != nil {
			return nil, err
		}
		out[f.PrimaryImage] = append(out[f.PrimaryImage], f)
	}
	return out, rows.Err()
}
