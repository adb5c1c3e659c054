package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs
(
    id         TEXT PRIMARY KEY,
    start_time TIMESTAMP NOT NULL,
    end_time   TIMESTAMP,
    resource   TEXT      NOT NULL,
    identity   TEXT,
    status     TEXT      NOT NULL DEFAULT 'running',
    config     TEXT
);

CREATE TABLE IF NOT EXISTS commands
(
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT      NOT NULL REFERENCES runs (id),
    timestamp   TIMESTAMP NOT NULL,
    command     TEXT      NOT NULL,
    duration_ms REAL,
    response     TEXT,
    error        TEXT,
    system_error TEXT
);

CREATE TABLE IF NOT EXISTS waveforms
(
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT    NOT NULL REFERENCES runs (id),
    channel     INTEGER NOT NULL,
    kind        TEXT    NOT NULL,
    point_index INTEGER NOT NULL,
    sweep_value REAL,
    samples     INTEGER NOT NULL,
    file        TEXT    NOT NULL,
    remote_file TEXT
);

CREATE TABLE IF NOT EXISTS points
(
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id           TEXT      NOT NULL REFERENCES runs (id),
    channel          INTEGER   NOT NULL,
    point_index      INTEGER   NOT NULL,
    label            TEXT      NOT NULL,
    file             TEXT      NOT NULL,
    amplitude        REAL      NOT NULL,
    actual_amplitude REAL,
    start_time       TIMESTAMP NOT NULL,
    end_time         TIMESTAMP NOT NULL,
    error            TEXT
);`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_commands_run ON commands (run_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_waveforms_run ON waveforms (run_id, channel, point_index);
CREATE INDEX IF NOT EXISTS idx_points_run ON points (run_id, channel, point_index);`

	insertRunSQL = `
INSERT INTO runs (id,
                  start_time,
                  resource,
                  identity,
                  config)
VALUES (?, ?, ?, ?, ?)`

	finishRunSQL = `
UPDATE runs
SET end_time = ?,
    status   = ?
WHERE id = ?`

	selectRunSQL = `
SELECT id,
       start_time,
       end_time,
       resource,
       identity,
       status,
       config
FROM runs
WHERE id = ?`

	selectRunsSQL = `
SELECT id,
       start_time,
       end_time,
       resource,
       identity,
       status,
       config
FROM runs
ORDER BY start_time`

	insertCommandSQL = `
INSERT INTO commands (run_id,
                      timestamp,
                      command,
                      duration_ms,
                      response,
                      error,
                      system_error)
VALUES `

	insertWaveformSQL = `
INSERT INTO waveforms (run_id,
                       channel,
                       kind,
                       point_index,
                       sweep_value,
                       samples,
                       file,
                       remote_file)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertPointSQL = `
INSERT INTO points (run_id,
                    channel,
                    point_index,
                    label,
                    file,
                    amplitude,
                    actual_amplitude,
                    start_time,
                    end_time,
                    error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectPointsSQL = `
SELECT channel,
       point_index,
       label,
       file,
       amplitude,
       actual_amplitude,
       start_time,
       end_time,
       error
FROM points
WHERE run_id = ?
  AND (? = 0 OR channel = ?)
ORDER BY id`
)
