package moviedb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBrowseQueryNoFilters(t *testing.T) {
	sql, args := buildBrowseQuery(BrowseFilter{})

	assert.Contains(t, sql, "WHERE 1=1")
	assert.NotContains(t, sql, "mg.genre_id =")
	assert.NotContains(t, sql, "m.year >=")
	assert.NotContains(t, sql, "HAVING")
	require.Len(t, args, 2)
	assert.Equal(t, 20, args[0], "default page size")
	assert.Equal(t, 0, args[1])
}

func TestBuildBrowseQueryAllFilters(t *testing.T) {
	sql, args := buildBrowseQuery(BrowseFilter{
		GenreID: 3,
		YearMin: 1990,
		YearMax: 1999,
		Limit:   50,
		Offset:  100,
	})

	assert.Contains(t, sql, "mg.genre_id = $1")
	assert.Contains(t, sql, "m.year >= $2")
	assert.Contains(t, sql, "m.year <= $3")
	assert.Contains(t, sql, "LIMIT $4 OFFSET $5")
	assert.Equal(t, []any{3, 1990, 1999, 50, 100}, args)
}

func TestBuildBrowseQueryRatingFloor(t *testing.T) {
	sql, args := buildBrowseQuery(BrowseFilter{
		GenreID:   7,
		RatingMin: 3.5,
		Limit:     10,
	})

	// The rating floor switches to the CTE form so genres can be
	// re-aggregated after the HAVING filter.
	assert.Contains(t, sql, "WITH movie_ratings AS")
	assert.Contains(t, sql, "HAVING COALESCE(AVG(r.rating), 0) >= $2")
	assert.Contains(t, sql, "LIMIT $3 OFFSET $4")
	assert.Equal(t, []any{7, 3.5, 10, 0}, args)
}

func TestBuildBrowseQueryYearOnly(t *testing.T) {
	sql, args := buildBrowseQuery(BrowseFilter{YearMin: 2000})

	assert.Contains(t, sql, "m.year >= $1")
	assert.NotContains(t, sql, "mg.genre_id =")
	assert.Equal(t, []any{2000, 20, 0}, args)
}

func TestBuildBrowseCountQueryIgnoresRatingFloor(t *testing.T) {
	sql, args := buildBrowseCountQuery(BrowseFilter{
		GenreID:   3,
		YearMin:   1990,
		RatingMin: 4.0,
	})

	assert.Contains(t, sql, "COUNT(DISTINCT m.movie_id)")
	assert.NotContains(t, sql, "rating")
	assert.Equal(t, []any{3, 1990}, args)
}

func TestBuildBrowseQueryPlaceholdersMatchArgs(t *testing.T) {
	cases := []BrowseFilter{
		{},
		{GenreID: 1},
		{YearMin: 1980, YearMax: 1989},
		{GenreID: 2, YearMin: 2010, RatingMin: 4.5, Limit: 5, Offset: 15},
	}
	for _, f := range cases {
		sql, args := buildBrowseQuery(f)
		for i := 1; i <= len(args); i++ {
			assert.Contains(t, sql, fmt.Sprintf("$%d", i), "filter %+v missing $%d", f, i)
		}
	}
}

func TestCompactGenres(t *testing.T) {
	drama := "Drama"
	empty := ""

	assert.Nil(t, compactGenres(nil))
	assert.Nil(t, compactGenres([]*string{nil}))
	assert.Equal(t, []string{"Drama"}, compactGenres([]*string{nil, &drama, &empty}))
}

func TestConnectValidation(t *testing.T) {
	_, err := Connect(t.Context(), Config{User: "svc@example.iam.gserviceaccount.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")

	_, err = Connect(t.Context(), Config{Host: "10.0.0.5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}
