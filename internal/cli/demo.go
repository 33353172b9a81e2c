package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alloyform-io/alloyform/internal/eval"
	"github.com/alloyform-io/alloyform/internal/moviedb"
)

var (
	demoHost     string
	demoPort     int
	demoDatabase string
	demoUser     string
	demoLimit    int
	demoKeyword  bool
	demoGenre    int
	demoYearMin  int
	demoYearMax  int
	demoRating   float64
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Query the CymbalFlix demo database",
	Long: `Runs the CymbalFlix demo queries against a provisioned AlloyDB cluster.

The connection uses IAM database authentication: the caller's application
default credentials are exchanged for a short-lived access token used as
the database password. When --host or --user are omitted, they are taken
from the state outputs "alloydb_primary_ip" and "demo_db_user".`,
}

var demoPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify connectivity and show the connected identity",
	RunE:  runDemoPing,
}

var demoStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dataset counters",
	RunE:  runDemoStats,
}

var demoSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search movies by meaning or keyword",
	Long: `Searches movies. By default the query text is embedded in-database and
matched against stored summary embeddings by cosine distance. With
--keyword, a case-insensitive substring match on title and summary is
used instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDemoSearch,
}

var demoBrowseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse movies with filters",
	RunE:  runDemoBrowse,
}

var demoMovieCmd = &cobra.Command{
	Use:   "movie <id>",
	Short: "Show details for one movie",
	Args:  cobra.ExactArgs(1),
	RunE:  runDemoMovie,
}

var demoRateCmd = &cobra.Command{
	Use:   "rate <user-id> <movie-id> <rating>",
	Short: "Add or update a rating",
	Args:  cobra.ExactArgs(3),
	RunE:  runDemoRate,
}

var demoAnalyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show the analytics dashboard data",
	RunE:  runDemoAnalytics,
}

func init() {
	demoCmd.PersistentFlags().StringVar(&demoHost, "host", "", "AlloyDB primary instance IP")
	demoCmd.PersistentFlags().IntVar(&demoPort, "port", 5432, "Database port")
	demoCmd.PersistentFlags().StringVar(&demoDatabase, "database", "cymbalflix", "Database name")
	demoCmd.PersistentFlags().StringVar(&demoUser, "user", "", "IAM database user (email)")

	demoSearchCmd.Flags().BoolVar(&demoKeyword, "keyword", false, "Use keyword matching instead of semantic search")
	demoSearchCmd.Flags().IntVar(&demoLimit, "limit", 10, "Maximum results")

	demoBrowseCmd.Flags().IntVar(&demoGenre, "genre", 0, "Filter by genre ID")
	demoBrowseCmd.Flags().IntVar(&demoYearMin, "year-min", 0, "Minimum release year")
	demoBrowseCmd.Flags().IntVar(&demoYearMax, "year-max", 0, "Maximum release year")
	demoBrowseCmd.Flags().Float64Var(&demoRating, "rating-min", 0, "Minimum average rating")
	demoBrowseCmd.Flags().IntVar(&demoLimit, "limit", 20, "Page size")

	demoCmd.AddCommand(demoPingCmd)
	demoCmd.AddCommand(demoStatsCmd)
	demoCmd.AddCommand(demoSearchCmd)
	demoCmd.AddCommand(demoBrowseCmd)
	demoCmd.AddCommand(demoMovieCmd)
	demoCmd.AddCommand(demoRateCmd)
	demoCmd.AddCommand(demoAnalyticsCmd)
}

// demoConnect builds a client from flags, falling back to state outputs for
// the endpoint and identity.
func demoConnect(cmd *cobra.Command) (*moviedb.Client, error) {
	ctx := cmd.Context()

	if demoHost == "" || demoUser == "" {
		wd, _, err := resolveProjectDir(nil)
		if err != nil {
			return nil, err
		}
		evaluator := eval.NewEvaluator(wd)
		stateMgr, err := openStateStore(wd, evaluator)
		if err != nil {
			return nil, err
		}
		s, err := stateMgr.Read(ctx)
		if err == nil {
			if demoHost == "" {
				if v, ok := s.Outputs["alloydb_primary_ip"].(string); ok {
					demoHost = v
				}
			}
			if demoUser == "" {
				if v, ok := s.Outputs["demo_db_user"].(string); ok {
					demoUser = v
				}
			}
		}
	}

	return moviedb.Connect(ctx, moviedb.Config{
		Host:     demoHost,
		Port:     demoPort,
		Database: demoDatabase,
		User:     demoUser,
	})
}

func runDemoPing(cmd *cobra.Command, args []string) error {
	client, err := demoConnect(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	user, err := client.Ping(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Connected as %s\n", user)
	return nil
}

func runDemoStats(cmd *cobra.Command, args []string) error {
	client, err := demoConnect(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	stats, err := client.Stats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Movies:  %d\n", stats.Movies)
	fmt.Printf("Ratings: %d\n", stats.Ratings)
	fmt.Printf("Users:   %d\n", stats.Users)
	fmt.Printf("Genres:  %d\n", stats.Genres)
	return nil
}

func runDemoSearch(cmd *cobra.Command, args []string) error {
	client, err := demoConnect(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	query := strings.Join(args, " ")
	var movies []moviedb.Movie
	if demoKeyword {
		movies, err = client.SearchKeyword(cmd.Context(), query, demoLimit)
	} else {
		movies, err = client.SearchSemantic(cmd.Context(), query, demoLimit)
	}
	if err != nil {
		return err
	}

	if len(movies) == 0 {
		fmt.Println("No movies found.")
		return nil
	}

	for _, m := range movies {
		printMovieLine(m, !demoKeyword)
	}
	return nil
}

func runDemoBrowse(cmd *cobra.Command, args []string) error {
	client, err := demoConnect(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Browse(cmd.Context(), moviedb.BrowseFilter{
		GenreID:   demoGenre,
		YearMin:   demoYearMin,
		YearMax:   demoYearMax,
		RatingMin: demoRating,
		Limit:     demoLimit,
	})
	if err != nil {
		return err
	}

	for _, m := range result.Movies {
		printMovieLine(m, false)
	}
	fmt.Printf("\n%d of %d movie(s)\n", len(result.Movies), result.TotalCount)
	return nil
}

func runDemoMovie(cmd *cobra.Command, args []string) error {
	var movieID int64
	if _, err := fmt.Sscanf(args[0], "%d", &movieID); err != nil {
		return fmt.Errorf("invalid movie id %q", args[0])
	}

	client, err := demoConnect(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	d, err := client.MovieDetails(cmd.Context(), movieID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("movie %d not found", movieID)
	}

	fmt.Printf("%s", d.Title)
	if d.Year != nil {
		fmt.Printf(" (%d)", *d.Year)
	}
	fmt.Println()
	if len(d.Genres) > 0 {
		fmt.Printf("Genres:  %s\n", strings.Join(d.Genres, ", "))
	}
	fmt.Printf("Rating:  %.2f (%d ratings)\n", d.AvgRating, d.RatingCount)
	if d.Summary != nil {
		fmt.Printf("\n%s\n", *d.Summary)
	}
	if d.IMDBID != nil {
		fmt.Printf("\nIMDb: https://www.imdb.com/title/tt%s/\n", *d.IMDBID)
	}
	if d.TMDBID != nil {
		fmt.Printf("TMDB: https://www.themoviedb.org/movie/%d\n", *d.TMDBID)
	}
	return nil
}

func runDemoRate(cmd *cobra.Command, args []string) error {
	var userID, movieID int64
	var rating float64
	if _, err := fmt.Sscanf(args[0], "%d", &userID); err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	if _, err := fmt.Sscanf(args[1], "%d", &movieID); err != nil {
		return fmt.Errorf("invalid movie id %q", args[1])
	}
	if _, err := fmt.Sscanf(args[2], "%g", &rating); err != nil {
		return fmt.Errorf("invalid rating %q", args[2])
	}
	if rating < 0.5 || rating > 5 {
		return fmt.Errorf("rating must be between 0.5 and 5")
	}

	client, err := demoConnect(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.AddRating(cmd.Context(), userID, movieID, rating)
	if err != nil {
		return err
	}

	verb := "Updated"
	if res.Created {
		verb = "Added"
	}
	fmt.Printf("%s rating %.1f for movie %d (rating id %d)\n", verb, res.Rating, res.MovieID, res.RatingID)
	return nil
}

func runDemoAnalytics(cmd *cobra.Command, args []string) error {
	client, err := demoConnect(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	a, err := client.Analytics(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("Top rated movies (50+ ratings):")
	for _, m := range a.TopMovies {
		year := ""
		if m.Year != nil {
			year = fmt.Sprintf(" (%d)", *m.Year)
		}
		fmt.Printf("  %.2f  %s%s  [%d ratings]\n", m.AvgRating, m.Title, year, m.RatingCount)
	}

	fmt.Println("\nMovies per genre:")
	for _, g := range a.GenreDistribution {
		fmt.Printf("  %-12s %d\n", g.Genre, g.MovieCount)
	}

	fmt.Println("\nAverage rating per genre:")
	for _, g := range a.RatingsByGenre {
		fmt.Printf("  %-12s %.2f  [%d ratings]\n", g.Genre, g.AvgRating, g.RatingCount)
	}

	fmt.Println("\nRatings per year:")
	for _, y := range a.RatingsByYear {
		fmt.Printf("  %d  %d ratings, avg %.2f\n", y.Year, y.Count, y.AvgRating)
	}

	return nil
}

func printMovieLine(m moviedb.Movie, withSimilarity bool) {
	year := ""
	if m.Year != nil {
		year = fmt.Sprintf(" (%d)", *m.Year)
	}
	if withSimilarity {
		fmt.Printf("  %.3f  %s%s", m.Similarity, m.Title, year)
	} else {
		fmt.Printf("  %s%s", m.Title, year)
	}
	if len(m.Genres) > 0 {
		fmt.Printf("  [%s]", strings.Join(m.Genres, ", "))
	}
	fmt.Println()
}
