package moviedb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Stats are the home-page counters.
type Stats struct {
	Movies  int64
	Ratings int64
	Users   int64
	Genres  int64
}

// Movie is a search or browse result row.
type Movie struct {
	ID          int64
	Title       string
	Year        *int
	Summary     *string
	Similarity  float64 // semantic search only
	AvgRating   float64
	RatingCount int64
	Genres      []string
}

// MovieDetails extends Movie with external links.
type MovieDetails struct {
	Movie
	IMDBID *string
	TMDBID *int64
}

// BrowseFilter selects and paginates the browse listing. Zero values mean
// no filter.
type BrowseFilter struct {
	GenreID   int
	YearMin   int
	YearMax   int
	RatingMin float64
	Limit     int
	Offset    int
}

// BrowseResult carries one page plus the total for pagination.
type BrowseResult struct {
	Movies     []Movie
	TotalCount int64
}

// RatingResult reports an upserted rating.
type RatingResult struct {
	RatingID int64
	UserID   int64
	MovieID  int64
	Rating   float64
	Created  bool // false when an existing rating was updated
}

// Stats returns the row counts behind the home page.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	for _, q := range []struct {
		sql  string
		dest *int64
	}{
		{"SELECT COUNT(*) FROM movies", &s.Movies},
		{"SELECT COUNT(*) FROM ratings", &s.Ratings},
		{"SELECT COUNT(*) FROM users", &s.Users},
		{"SELECT COUNT(*) FROM genres", &s.Genres},
	} {
		if err := c.pool.QueryRow(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to query stats: %w", err)
		}
	}
	return &s, nil
}

// SearchSemantic performs vector similarity search. The embedding model
// runs in-database: the query text is embedded in SQL and compared against
// stored summary embeddings by cosine distance.
func (c *Client) SearchSemantic(ctx context.Context, query string, limit int) ([]Movie, error) {
	if limit <= 0 {
		limit = 10
	}

	const sql = `
		WITH query_embedding AS (
			SELECT embedding('gemini-embedding-001', $1)::vector AS embedding
		)
		SELECT
			m.movie_id,
			m.title,
			m.year,
			m.summary,
			ROUND((1 - (m.summary_embedding <=> q.embedding))::numeric, 3) AS similarity,
			ARRAY_AGG(DISTINCT g.genre_name ORDER BY g.genre_name) AS genres
		FROM movies m
		CROSS JOIN query_embedding q
		LEFT JOIN movie_genres mg ON m.movie_id = mg.movie_id
		LEFT JOIN genres g ON mg.genre_id = g.genre_id
		WHERE m.summary_embedding IS NOT NULL
		GROUP BY m.movie_id, m.title, m.year, m.summary, m.summary_embedding, q.embedding
		ORDER BY m.summary_embedding <=> q.embedding
		LIMIT $2`

	rows, err := c.pool.Query(ctx, sql, query, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}
	defer rows.Close()

	var movies []Movie
	for rows.Next() {
		var m Movie
		var genres []*string
		if err := rows.Scan(&m.ID, &m.Title, &m.Year, &m.Summary, &m.Similarity, &genres); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		m.Genres = compactGenres(genres)
		movies = append(movies, m)
	}
	return movies, rows.Err()
}

// SearchKeyword performs case-insensitive substring matching on title and
// summary, title hits first.
func (c *Client) SearchKeyword(ctx context.Context, query string, limit int) ([]Movie, error) {
	if limit <= 0 {
		limit = 20
	}

	const sql = `
		SELECT
			m.movie_id,
			m.title,
			m.year,
			m.summary,
			ARRAY_AGG(DISTINCT g.genre_name ORDER BY g.genre_name) AS genres
		FROM movies m
		LEFT JOIN movie_genres mg ON m.movie_id = mg.movie_id
		LEFT JOIN genres g ON mg.genre_id = g.genre_id
		WHERE m.title ILIKE $1 OR m.summary ILIKE $1
		GROUP BY m.movie_id, m.title, m.year, m.summary
		ORDER BY
			CASE WHEN m.title ILIKE $1 THEN 0 ELSE 1 END,
			m.title
		LIMIT $2`

	rows, err := c.pool.Query(ctx, sql, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var movies []Movie
	for rows.Next() {
		var m Movie
		var genres []*string
		if err := rows.Scan(&m.ID, &m.Title, &m.Year, &m.Summary, &genres); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		m.Genres = compactGenres(genres)
		movies = append(movies, m)
	}
	return movies, rows.Err()
}

// Genres lists all genres for the filter dropdown.
func (c *Client) Genres(ctx context.Context) (map[int]string, error) {
	rows, err := c.pool.Query(ctx, "SELECT genre_id, genre_name FROM genres ORDER BY genre_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list genres: %w", err)
	}
	defer rows.Close()

	genres := make(map[int]string)
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan genre row: %w", err)
		}
		genres[id] = name
	}
	return genres, rows.Err()
}

// buildBrowseQuery assembles the filtered browse query and its arguments.
// Split out so the dynamic WHERE construction is testable without a
// database.
func buildBrowseQuery(f BrowseFilter) (string, []any) {
	where := []string{"1=1"}
	var args []any

	if f.GenreID > 0 {
		args = append(args, f.GenreID)
		where = append(where, fmt.Sprintf("mg.genre_id = $%d", len(args)))
	}
	if f.YearMin > 0 {
		args = append(args, f.YearMin)
		where = append(where, fmt.Sprintf("m.year >= $%d", len(args)))
	}
	if f.YearMax > 0 {
		args = append(args, f.YearMax)
		where = append(where, fmt.Sprintf("m.year <= $%d", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	var sql string
	if f.RatingMin > 0 {
		args = append(args, f.RatingMin)
		ratingArg := len(args)
		args = append(args, limit, f.Offset)
		sql = fmt.Sprintf(`
		WITH movie_ratings AS (
			SELECT
				m.movie_id,
				m.title,
				m.year,
				m.summary,
				COALESCE(AVG(r.rating), 0) AS avg_rating,
				COUNT(r.rating_id) AS rating_count
			FROM movies m
			LEFT JOIN movie_genres mg ON m.movie_id = mg.movie_id
			LEFT JOIN ratings r ON m.movie_id = r.movie_id
			WHERE %s
			GROUP BY m.movie_id, m.title, m.year, m.summary
			HAVING COALESCE(AVG(r.rating), 0) >= $%d
		)
		SELECT
			mr.movie_id, mr.title, mr.year, mr.summary, mr.avg_rating, mr.rating_count,
			ARRAY_AGG(DISTINCT g.genre_name ORDER BY g.genre_name) AS genres
		FROM movie_ratings mr
		LEFT JOIN movie_genres mg ON mr.movie_id = mg.movie_id
		LEFT JOIN genres g ON mg.genre_id = g.genre_id
		GROUP BY mr.movie_id, mr.title, mr.year, mr.summary, mr.avg_rating, mr.rating_count
		ORDER BY mr.avg_rating DESC, mr.rating_count DESC
		LIMIT $%d OFFSET $%d`, whereSQL, ratingArg, ratingArg+1, ratingArg+2)
	} else {
		args = append(args, limit, f.Offset)
		n := len(args)
		sql = fmt.Sprintf(`
		SELECT
			m.movie_id,
			m.title,
			m.year,
			m.summary,
			COALESCE(AVG(r.rating), 0) AS avg_rating,
			COUNT(r.rating_id) AS rating_count,
			ARRAY_AGG(DISTINCT g.genre_name ORDER BY g.genre_name) AS genres
		FROM movies m
		LEFT JOIN movie_genres mg ON m.movie_id = mg.movie_id
		LEFT JOIN genres g ON mg.genre_id = g.genre_id
		LEFT JOIN ratings r ON m.movie_id = r.movie_id
		WHERE %s
		GROUP BY m.movie_id, m.title, m.year, m.summary
		ORDER BY avg_rating DESC, rating_count DESC
		LIMIT $%d OFFSET $%d`, whereSQL, n-1, n)
	}

	return sql, args
}

// buildBrowseCountQuery assembles the pagination total for the same
// filters, ignoring the rating floor.
func buildBrowseCountQuery(f BrowseFilter) (string, []any) {
	where := []string{"1=1"}
	var args []any

	if f.GenreID > 0 {
		args = append(args, f.GenreID)
		where = append(where, fmt.Sprintf("mg.genre_id = $%d", len(args)))
	}
	if f.YearMin > 0 {
		args = append(args, f.YearMin)
		where = append(where, fmt.Sprintf("m.year >= $%d", len(args)))
	}
	if f.YearMax > 0 {
		args = append(args, f.YearMax)
		where = append(where, fmt.Sprintf("m.year <= $%d", len(args)))
	}

	sql := fmt.Sprintf(`
		SELECT COUNT(DISTINCT m.movie_id)
		FROM movies m
		LEFT JOIN movie_genres mg ON m.movie_id = mg.movie_id
		WHERE %s`, strings.Join(where, " AND "))
	return sql, args
}

// Browse lists movies with optional filters and rating aggregation.
func (c *Client) Browse(ctx context.Context, f BrowseFilter) (*BrowseResult, error) {
	sql, args := buildBrowseQuery(f)
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("browse query failed: %w", err)
	}
	defer rows.Close()

	var movies []Movie
	for rows.Next() {
		var m Movie
		var genres []*string
		if err := rows.Scan(&m.ID, &m.Title, &m.Year, &m.Summary, &m.AvgRating, &m.RatingCount, &genres); err != nil {
			return nil, fmt.Errorf("failed to scan browse row: %w", err)
		}
		m.Genres = compactGenres(genres)
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	countSQL, countArgs := buildBrowseCountQuery(f)
	var total int64
	if err := c.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("browse count failed: %w", err)
	}

	return &BrowseResult{Movies: movies, TotalCount: total}, nil
}

// MovieDetails returns complete details for one movie, or nil if it does
// not exist.
func (c *Client) MovieDetails(ctx context.Context, movieID int64) (*MovieDetails, error) {
	const sql = `
		SELECT
			m.movie_id,
			m.title,
			m.year,
			m.summary,
			COALESCE(AVG(r.rating), 0) AS avg_rating,
			COUNT(r.rating_id) AS rating_count,
			ARRAY_AGG(DISTINCT g.genre_name ORDER BY g.genre_name) AS genres,
			l.imdb_id,
			l.tmdb_id
		FROM movies m
		LEFT JOIN movie_genres mg ON m.movie_id = mg.movie_id
		LEFT JOIN genres g ON mg.genre_id = g.genre_id
		LEFT JOIN ratings r ON m.movie_id = r.movie_id
		LEFT JOIN links l ON m.movie_id = l.movie_id
		WHERE m.movie_id = $1
		GROUP BY m.movie_id, m.title, m.year, m.summary, l.imdb_id, l.tmdb_id`

	var d MovieDetails
	var genres []*string
	err := c.pool.QueryRow(ctx, sql, movieID).Scan(
		&d.ID, &d.Title, &d.Year, &d.Summary, &d.AvgRating, &d.RatingCount, &genres, &d.IMDBID, &d.TMDBID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query movie details: %w", err)
	}
	d.Genres = compactGenres(genres)
	return &d, nil
}

// AddRating upserts a user's rating for a movie. The ratings table has no
// unique constraint on (user_id, movie_id), so the upsert is an explicit
// check then update or insert.
func (c *Client) AddRating(ctx context.Context, userID, movieID int64, rating float64) (*RatingResult, error) {
	res := &RatingResult{UserID: userID, MovieID: movieID}

	var existing int64
	err := c.pool.QueryRow(ctx,
		"SELECT rating_id FROM ratings WHERE user_id = $1 AND movie_id = $2",
		userID, movieID).Scan(&existing)
	switch {
	case err == nil:
		err = c.pool.QueryRow(ctx, `
			UPDATE ratings
			SET rating = $1, rated_at = CURRENT_TIMESTAMP
			WHERE rating_id = $2
			RETURNING rating_id, rating`, rating, existing).Scan(&res.RatingID, &res.Rating)
		if err != nil {
			return nil, fmt.Errorf("failed to update rating: %w", err)
		}
	case err == pgx.ErrNoRows:
		err = c.pool.QueryRow(ctx, `
			INSERT INTO ratings (user_id, movie_id, rating, rated_at)
			VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
			RETURNING rating_id, rating`, userID, movieID, rating).Scan(&res.RatingID, &res.Rating)
		if err != nil {
			return nil, fmt.Errorf("failed to insert rating: %w", err)
		}
		res.Created = true
	default:
		return nil, fmt.Errorf("failed to check existing rating: %w", err)
	}
	return res, nil
}

// GenreStat is one row of the genre analytics.
type GenreStat struct {
	Genre       string
	MovieCount  int64
	AvgRating   float64
	RatingCount int64
}

// TopMovie is one row of the top-rated analytics.
type TopMovie struct {
	Title       string
	Year        *int
	AvgRating   float64
	RatingCount int64
}

// YearStat is one row of the ratings-over-time analytics.
type YearStat struct {
	Year      int
	Count     int64
	AvgRating float64
}

// Analytics aggregates the dashboard data. The underlying aggregations
// run over the full ratings table.
type Analytics struct {
	TopMovies         []TopMovie
	GenreDistribution []GenreStat
	RatingsByYear     []YearStat
	RatingsByGenre    []GenreStat
}

// Analytics runs the dashboard aggregation queries.
func (c *Client) Analytics(ctx context.Context) (*Analytics, error) {
	a := &Analytics{}

	// Top rated movies, with a floor on rating volume.
	rows, err := c.pool.Query(ctx, `
		SELECT m.title, m.year,
			ROUND(AVG(r.rating)::numeric, 2) AS avg_rating,
			COUNT(r.rating_id) AS rating_count
		FROM movies m
		JOIN ratings r ON m.movie_id = r.movie_id
		GROUP BY m.movie_id, m.title, m.year
		HAVING COUNT(r.rating_id) >= 50
		ORDER BY AVG(r.rating) DESC
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("top movies query failed: %w", err)
	}
	for rows.Next() {
		var t TopMovie
		if err := rows.Scan(&t.Title, &t.Year, &t.AvgRating, &t.RatingCount); err != nil {
			rows.Close()
			return nil, err
		}
		a.TopMovies = append(a.TopMovies, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = c.pool.Query(ctx, `
		SELECT g.genre_name, COUNT(DISTINCT mg.movie_id) AS movie_count
		FROM genres g
		JOIN movie_genres mg ON g.genre_id = mg.genre_id
		GROUP BY g.genre_id, g.genre_name
		ORDER BY movie_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("genre distribution query failed: %w", err)
	}
	for rows.Next() {
		var g GenreStat
		if err := rows.Scan(&g.Genre, &g.MovieCount); err != nil {
			rows.Close()
			return nil, err
		}
		a.GenreDistribution = append(a.GenreDistribution, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = c.pool.Query(ctx, `
		SELECT EXTRACT(YEAR FROM rated_at)::int AS year,
			COUNT(*) AS rating_count,
			ROUND(AVG(rating)::numeric, 2) AS avg_rating
		FROM ratings
		WHERE rated_at IS NOT NULL
		GROUP BY EXTRACT(YEAR FROM rated_at)
		ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("ratings by year query failed: %w", err)
	}
	for rows.Next() {
		var y YearStat
		if err := rows.Scan(&y.Year, &y.Count, &y.AvgRating); err != nil {
			rows.Close()
			return nil, err
		}
		a.RatingsByYear = append(a.RatingsByYear, y)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = c.pool.Query(ctx, `
		SELECT g.genre_name,
			ROUND(AVG(r.rating)::numeric, 2) AS avg_rating,
			COUNT(r.rating_id) AS rating_count
		FROM genres g
		JOIN movie_genres mg ON g.genre_id = mg.genre_id
		JOIN ratings r ON mg.movie_id = r.movie_id
		GROUP BY g.genre_id, g.genre_name
		ORDER BY avg_rating DESC`)
	if err != nil {
		return nil, fmt.Errorf("ratings by genre query failed: %w", err)
	}
	for rows.Next() {
		var g GenreStat
		if err := rows.Scan(&g.Genre, &g.AvgRating, &g.RatingCount); err != nil {
			rows.Close()
			return nil, err
		}
		a.RatingsByGenre = append(a.RatingsByGenre, g)
	}
	rows.Close()
	return a, rows.Err()
}

// compactGenres drops the NULL produced by ARRAY_AGG over an empty join.
func compactGenres(genres []*string) []string {
	var out []string
	for _, g := range genres {
		if g != nil && *g != "" {
			out = append(out, *g)
		}
	}
	return out
}
