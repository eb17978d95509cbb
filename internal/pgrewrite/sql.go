package pgrewrite

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const tempTable = "evil_rewrite_tmp"

// Job describes one geometry column to rewrite
type Job struct {
	Schema     string
	Table      string
	KeyColumn  string
	GeomColumn string
	SourceSRID int // 0 = read from the column
	TargetSRID int
	Where      string
}

func (j Job) table() string {
	if j.Schema == "" {
		return pgx.Identifier{j.Table}.Sanitize()
	}
	return pgx.Identifier{j.Schema, j.Table}.Sanitize()
}

func (j Job) key() string {
	return pgx.Identifier{j.KeyColumn}.Sanitize()
}

func (j Job) geom() string {
	return pgx.Identifier{j.GeomColumn}.Sanitize()
}

func (j Job) baseFilter() string {
	clause := j.geom() + " IS NOT NULL"
	if w := strings.TrimSpace(j.Where); w != "" {
		clause += " AND (" + w + ")"
	}
	return clause
}

// filter selects the rows still to convert. Once the source SRID is known,
// rows already carrying another SRID (converted by an earlier, interrupted
// run) are left alone. SRID 0 rows count as source rows.
func (j Job) filter() string {
	clause := j.baseFilter()
	if j.SourceSRID != 0 {
		clause += fmt.Sprintf(" AND ST_SRID(%s) IN (0, %d)", j.geom(), j.SourceSRID)
	}
	return clause
}

// countSQL counts the rows a job will touch
func countSQL(j Job) string {
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", j.table(), j.filter())
}

// sridCensusSQL counts the rows skipped by filter: those already holding
// the target SRID and those holding any other SRID
func sridCensusSQL(j Job) string {
	return fmt.Sprintf(
		"SELECT count(*) FILTER (WHERE ST_SRID(%[1]s) = %[2]d), count(*) FILTER (WHERE ST_SRID(%[1]s) NOT IN (0, %[3]d, %[2]d)) FROM %[4]s WHERE %[5]s",
		j.geom(), j.TargetSRID, j.SourceSRID, j.table(), j.baseFilter())
}

// sampleSRIDSQL reads the SRID of the lowest-keyed geometry not yet in the
// target SRID
func sampleSRIDSQL(j Job) string {
	return fmt.Sprintf("SELECT ST_SRID(%s) FROM %s WHERE %s AND ST_SRID(%s) <> %d ORDER BY %s LIMIT 1",
		j.geom(), j.table(), j.baseFilter(), j.geom(), j.TargetSRID, j.key())
}

// readExpr wraps the column with ST_Transform when the leading
// reprojection has to run in PostGIS
func readExpr(j Job, transformTo int) string {
	if transformTo != 0 {
		return fmt.Sprintf("ST_AsEWKB(ST_Transform(%s, %d))", j.geom(), transformTo)
	}
	return fmt.Sprintf("ST_AsEWKB(%s)", j.geom())
}

// batchSQL selects the next keyset page. $1 is the last key seen; the first
// page is selected by firstBatch.
func batchSQL(j Job, transformTo int, firstBatch bool) string {
	where := j.filter()
	if !firstBatch {
		where = fmt.Sprintf("%s > $1 AND %s", j.key(), where)
	}
	return fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s ORDER BY %s LIMIT %s",
		j.key(), readExpr(j, transformTo), j.table(), where, j.key(), limitParam(firstBatch))
}

func limitParam(firstBatch bool) string {
	if firstBatch {
		return "$1"
	}
	return "$2"
}

// createTempSQL creates a per-transaction staging table whose key column
// has the same type as the target key
func createTempSQL(j Job) string {
	return fmt.Sprintf(
		"CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s AS k, NULL::bytea AS geom FROM %s WITH NO DATA",
		tempTable, j.key(), j.table())
}

// writeExpr turns the staged EWKB back into a geometry, delegating a
// trailing reprojection to PostGIS when needed
func writeExpr(transformTo int) string {
	expr := "ST_GeomFromEWKB(t.geom)"
	if transformTo != 0 {
		expr = fmt.Sprintf("ST_Transform(%s, %d)", expr, transformTo)
	}
	return expr
}

func updateSQL(j Job, transformTo int) string {
	return fmt.Sprintf("UPDATE %s AS d SET %s = %s FROM %s AS t WHERE d.%s = t.k",
		j.table(), j.geom(), writeExpr(transformTo), tempTable, j.key())
}

// reprojectSQL handles routes made of a single reprojection
func reprojectSQL(j Job) string {
	return fmt.Sprintf("UPDATE %s SET %s = ST_Transform(%s, %d) WHERE %s",
		j.table(), j.geom(), j.geom(), j.TargetSRID, j.filter())
}

// relaxColumnSQL drops the typmod so rows can carry the target SRID
// while the job is running
func relaxColumnSQL(j Job) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE geometry USING %s", j.table(), j.geom(), j.geom())
}

// restrictColumnSQL restores the typmod with the target SRID
func restrictColumnSQL(j Job, geomType string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE geometry(%s, %d) USING %s",
		j.table(), j.geom(), geomType, j.TargetSRID, j.geom())
}

// typmodName rebuilds the typmod type name from geometry_columns, which
// reports Z as a dimension count rather than a suffix
func typmodName(geomType string, dims int) string {
	t := strings.ToUpper(geomType)
	switch {
	case dims == 4 && !strings.HasSuffix(t, "ZM"):
		return t + "ZM"
	case dims == 3 && !strings.HasSuffix(t, "M") && !strings.HasSuffix(t, "Z"):
		return t + "Z"
	default:
		return t
	}
}
