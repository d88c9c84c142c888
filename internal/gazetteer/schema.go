package gazetteer

// SnapshotSchema is the DDL for a snapshot database. Snapshot builds create
// the full schema up front, bulk-load it, and only then publish; readers
// never see a partially built file.
const SnapshotSchema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS places (
	id           INTEGER PRIMARY KEY,
	name         TEXT NOT NULL,
	folded_name  TEXT NOT NULL,
	kind         TEXT NOT NULL,
	lat          REAL NOT NULL,
	lng          REAL NOT NULL,
	population   INTEGER,
	admin_path   TEXT NOT NULL DEFAULT '[]',
	external_ids TEXT,
	country_code TEXT
);

CREATE TABLE IF NOT EXISTS place_aliases (
	place_id INTEGER NOT NULL REFERENCES places(id),
	alias    TEXT NOT NULL,
	lang     TEXT,
	PRIMARY KEY (place_id, alias)
);

CREATE TABLE IF NOT EXISTS name_trigrams (
	trigram  TEXT NOT NULL,
	place_id INTEGER NOT NULL,
	PRIMARY KEY (trigram, place_id)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS admin_edges (
	place_id    INTEGER NOT NULL,
	ancestor_id INTEGER NOT NULL,
	depth       INTEGER NOT NULL,
	PRIMARY KEY (place_id, ancestor_id)
);

CREATE TABLE IF NOT EXISTS boundaries (
	place_id INTEGER PRIMARY KEY REFERENCES places(id),
	ewkb     BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_places_folded_name ON places(folded_name);
CREATE INDEX IF NOT EXISTS idx_places_country ON places(country_code);
CREATE INDEX IF NOT EXISTS idx_aliases_alias ON place_aliases(alias);
CREATE INDEX IF NOT EXISTS idx_admin_edges_ancestor ON admin_edges(ancestor_id);
`
