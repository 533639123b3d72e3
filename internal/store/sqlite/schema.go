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

// Package sqlite is the relational row store behind tasks, projects, media
// rows, segments, jobs, labels and annotation payloads. The schema is
// embedded and applied on open, so a fresh database file is usable without
// any migration tooling. List-valued columns (deleted frames, segment file
// lists, attribute values) are stored as JSON text.
package sqlite

const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    bug_tracker TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'annotation',
    dimension   TEXT NOT NULL DEFAULT '2d',
    owner_id    INTEGER NOT NULL DEFAULT 0,
    org_id      INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS data (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    size           INTEGER NOT NULL DEFAULT 0,
    start_frame    INTEGER NOT NULL DEFAULT 0,
    stop_frame     INTEGER NOT NULL DEFAULT 0,
    frame_filter   TEXT NOT NULL DEFAULT '',
    chunk_size     INTEGER NOT NULL DEFAULT 0,
    image_quality  INTEGER NOT NULL DEFAULT 70,
    storage        TEXT NOT NULL DEFAULT 'local',
    storage_method TEXT NOT NULL DEFAULT 'file_system',
    chunk_type     TEXT NOT NULL DEFAULT 'imageset',
    sorting_method TEXT NOT NULL DEFAULT 'lexicographical',
    deleted_frames TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS tasks (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id   INTEGER NOT NULL DEFAULT 0,
    name         TEXT NOT NULL,
    mode         TEXT NOT NULL DEFAULT 'annotation',
    dimension    TEXT NOT NULL DEFAULT '2d',
    segment_size INTEGER NOT NULL DEFAULT 0,
    overlap      INTEGER NOT NULL DEFAULT 0,
    bug_tracker  TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'annotation',
    subset       TEXT NOT NULL DEFAULT '',
    owner_id     INTEGER NOT NULL DEFAULT 0,
    assignee_id  INTEGER NOT NULL DEFAULT 0,
    org_id       INTEGER NOT NULL DEFAULT 0,
    data_id      INTEGER NOT NULL DEFAULT 0 REFERENCES data(id),
    created_at   TIMESTAMP NOT NULL,
    updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    data_id INTEGER NOT NULL REFERENCES data(id),
    path    TEXT NOT NULL,
    frame   INTEGER NOT NULL,
    width   INTEGER NOT NULL DEFAULT 0,
    height  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_images_data ON images(data_id, frame);

CREATE TABLE IF NOT EXISTS videos (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    data_id INTEGER NOT NULL REFERENCES data(id),
    path    TEXT NOT NULL,
    width   INTEGER NOT NULL DEFAULT 0,
    height  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS related_files (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    data_id       INTEGER NOT NULL REFERENCES data(id),
    primary_image INTEGER NOT NULL REFERENCES images(id),
    path          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_related_data ON related_files(data_id);

CREATE TABLE IF NOT EXISTS segments (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id     INTEGER NOT NULL REFERENCES tasks(id),
    start_frame INTEGER NOT NULL,
    stop_frame  INTEGER NOT NULL,
    type        TEXT NOT NULL DEFAULT 'range',
    files       TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_segments_task ON segments(task_id, start_frame);

CREATE TABLE IF NOT EXISTS jobs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    segment_id INTEGER NOT NULL REFERENCES segments(id),
    status     TEXT NOT NULL DEFAULT 'annotation',
    stage      TEXT NOT NULL DEFAULT 'annotation'
);

CREATE TABLE IF NOT EXISTS labels (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id    INTEGER NOT NULL DEFAULT 0,
    project_id INTEGER NOT NULL DEFAULT 0,
    parent_id  INTEGER NOT NULL DEFAULT 0,
    name       TEXT NOT NULL,
    color      TEXT NOT NULL DEFAULT '',
    type       TEXT NOT NULL DEFAULT 'any',
    svg        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_labels_task ON labels(task_id);
CREATE INDEX IF NOT EXISTS idx_labels_project ON labels(project_id);

CREATE TABLE IF NOT EXISTS attributes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    label_id      INTEGER NOT NULL REFERENCES labels(id),
    name          TEXT NOT NULL,
    mutable       INTEGER NOT NULL DEFAULT 0,
    input_type    TEXT NOT NULL DEFAULT 'text',
    default_value TEXT NOT NULL DEFAULT '',
    values_json   TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_attributes_label ON attributes(label_id);

CREATE TABLE IF NOT EXISTS annotations (
    job_id  INTEGER PRIMARY KEY REFERENCES jobs(id),
    payload TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS cloud_uploads (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    bucket       TEXT NOT NULL,
    object_name  TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT '',
    size_bytes   INTEGER NOT NULL DEFAULT 0,
    recorded_at  TIMESTAMP NOT NULL,
    UNIQUE (bucket, object_name)
);
`
