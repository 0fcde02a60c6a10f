package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaSQLDimension(t *testing.T) {
	sql := SchemaSQL(768)
	assert.Contains(t, sql, "category_embedding ON category FIELDS embedding HNSW DIMENSION 768")
	assert.Contains(t, sql, "DEFINE TABLE IF NOT EXISTS publish_job")
	assert.Contains(t, sql, "DEFINE TABLE IF NOT EXISTS product_outcome")
}

func TestOptional(t *testing.T) {
	assert.Nil(t, optional(""))
	if v := optional("x"); assert.NotNil(t, v) {
		assert.Equal(t, "x", *v)
	}
}
