package lastfm

// Structs to represent the Last.fm API response for user.getweeklyartistchart
type WeeklyArtistChartResponse struct {
	WeeklyArtistChart WeeklyArtistChart `json:"weeklyartistchart"`
	Error             int               `json:"error,omitempty"`
	Message           string            `json:"message,omitempty"`
}

type WeeklyArtistChart struct {
	Artists []ChartArtist `json:"artist"`
	Attr    ChartAttr     `json:"@attr"`
}

type ChartArtist struct {
	MBID      string       `json:"mbid"`
	Name      string       `json:"name"`
	Playcount string       `json:"playcount"` // Last.fm serializes counts as strings
	URL       string       `json:"url"`
	Image     []ChartImage `json:"image,omitempty"`
	Attr      *struct {
		Rank string `json:"rank"`
	} `json:"@attr,omitempty"`
}

type ChartImage struct {
	Size string `json:"size"`  // "small", "medium", "large", "extralarge"
	Text string `json:"#text"` // URL of the image
}

type ChartAttr struct {
	User string `json:"user"`
	From string `json:"from"`
	To   string `json:"to"`
}

// UserInfoResponse is the subset of user.getinfo needed for validation.
type UserInfoResponse struct {
	User *struct {
		Name string `json:"name"`
	} `json:"user,omitempty"`
	Error   int    `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Artist is the chart entry handed to the rest of the pipeline, ordered as
// returned by Last.fm (descending playcount, provider tie order).
type Artist struct {
	Name      string
	Playcount int
	ImageURL  *string
	MBID      *string
}
