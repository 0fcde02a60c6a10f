package db

import "fmt"

const schemaTemplate = `
    -- ==========================================================================
    -- CATEGORY TABLE (marketplace taxonomy)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS category SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS display_path ON category TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS is_leaf ON category TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS embedding ON category TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS version ON category TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS updated ON category TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS category_leaf ON category FIELDS is_leaf;
    DEFINE INDEX IF NOT EXISTS category_version ON category FIELDS version;
    DEFINE INDEX IF NOT EXISTS category_embedding ON category FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- PUBLISH JOB TABLE (batch runs)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS publish_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS status ON publish_job TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON publish_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS sources ON publish_job TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS targets ON publish_job TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS total ON publish_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS progress ON publish_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS result ON publish_job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON publish_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON publish_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON publish_job TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS publish_job_status ON publish_job FIELDS status;

    -- ==========================================================================
    -- PRODUCT OUTCOME TABLE (one row per product and run)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS product_outcome SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS run_id ON product_outcome TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON product_outcome TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS source_id ON product_outcome TYPE string;
    DEFINE FIELD IF NOT EXISTS source_path ON product_outcome TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS status ON product_outcome TYPE string;
    DEFINE FIELD IF NOT EXISTS category_id ON product_outcome TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS reason ON product_outcome TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS outcome ON product_outcome TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created ON product_outcome TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS product_outcome_job ON product_outcome FIELDS job_id;
    DEFINE INDEX IF NOT EXISTS product_outcome_source ON product_outcome FIELDS source_id;
`

// SchemaSQL returns the schema definition with the category embedding index
// sized to dimension.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}
