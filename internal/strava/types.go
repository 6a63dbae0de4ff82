package strava

import "time"

// Athlete is the authenticated athlete's profile.
type Athlete struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Firstname     string    `json:"firstname"`
	Lastname      string    `json:"lastname"`
	Bio           string    `json:"bio"`
	City          string    `json:"city"`
	State         string    `json:"state"`
	Country       string    `json:"country"`
	Sex           string    `json:"sex"`
	Premium       bool      `json:"premium"`
	Summit        bool      `json:"summit"`
	Weight        float64   `json:"weight"`
	Profile       string    `json:"profile"`
	ProfileMedium string    `json:"profile_medium"`
	FollowerCount int       `json:"follower_count"`
	FriendCount   int       `json:"friend_count"`
	FTP           int       `json:"ftp"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ActivityTotal aggregates distance, time, and elevation over a set of
// activities.
type ActivityTotal struct {
	Count            int     `json:"count"`
	Distance         float64 `json:"distance"`
	MovingTime       int64   `json:"moving_time"`
	ElapsedTime      int64   `json:"elapsed_time"`
	ElevationGain    float64 `json:"elevation_gain"`
	AchievementCount int     `json:"achievement_count"`
}

// AthleteStats is the rolled-up activity statistics for an athlete.
type AthleteStats struct {
	BiggestRideDistance       float64       `json:"biggest_ride_distance"`
	BiggestClimbElevationGain float64       `json:"biggest_climb_elevation_gain"`
	RecentRideTotals          ActivityTotal `json:"recent_ride_totals"`
	RecentRunTotals           ActivityTotal `json:"recent_run_totals"`
	RecentSwimTotals          ActivityTotal `json:"recent_swim_totals"`
	YTDRideTotals             ActivityTotal `json:"ytd_ride_totals"`
	YTDRunTotals              ActivityTotal `json:"ytd_run_totals"`
	YTDSwimTotals             ActivityTotal `json:"ytd_swim_totals"`
	AllRideTotals             ActivityTotal `json:"all_ride_totals"`
	AllRunTotals              ActivityTotal `json:"all_run_totals"`
	AllSwimTotals             ActivityTotal `json:"all_swim_totals"`
}

// PolylineMap carries an activity's or segment's encoded route.
type PolylineMap struct {
	ID              string `json:"id"`
	Polyline        string `json:"polyline,omitempty"`
	SummaryPolyline string `json:"summary_polyline"`
}

// Activity is a Strava activity. Summary and detailed representations
// share the struct; detail-only fields are simply empty on summaries.
type Activity struct {
	ID                 int64       `json:"id"`
	Name               string      `json:"name"`
	Description        string      `json:"description,omitempty"`
	Type               string      `json:"type"`
	SportType          string      `json:"sport_type"`
	Distance           float64     `json:"distance"`
	MovingTime         int64       `json:"moving_time"`
	ElapsedTime        int64       `json:"elapsed_time"`
	TotalElevationGain float64     `json:"total_elevation_gain"`
	StartDate          time.Time   `json:"start_date"`
	StartDateLocal     time.Time   `json:"start_date_local"`
	Timezone           string      `json:"timezone"`
	AverageSpeed       float64     `json:"average_speed"`
	MaxSpeed           float64     `json:"max_speed"`
	AverageWatts       float64     `json:"average_watts,omitempty"`
	AverageHeartrate   float64     `json:"average_heartrate,omitempty"`
	MaxHeartrate       float64     `json:"max_heartrate,omitempty"`
	Calories           float64     `json:"calories,omitempty"`
	SufferScore        float64     `json:"suffer_score,omitempty"`
	AchievementCount   int         `json:"achievement_count"`
	KudosCount         int         `json:"kudos_count"`
	CommentCount       int         `json:"comment_count"`
	PRCount            int         `json:"pr_count"`
	Trainer            bool        `json:"trainer"`
	Commute            bool        `json:"commute"`
	Manual             bool        `json:"manual"`
	Private            bool        `json:"private"`
	GearID             string      `json:"gear_id,omitempty"`
	DeviceName         string      `json:"device_name,omitempty"`
	Map                PolylineMap `json:"map"`
}

// Segment is a Strava segment. Like Activity, summary and detailed
// representations share the struct.
type Segment struct {
	ID                 int64       `json:"id"`
	Name               string      `json:"name"`
	ActivityType       string      `json:"activity_type"`
	Distance           float64     `json:"distance"`
	AverageGrade       float64     `json:"average_grade"`
	MaximumGrade       float64     `json:"maximum_grade"`
	ElevationHigh      float64     `json:"elevation_high"`
	ElevationLow       float64     `json:"elevation_low"`
	TotalElevationGain float64     `json:"total_elevation_gain,omitempty"`
	ClimbCategory      int         `json:"climb_category"`
	City               string      `json:"city"`
	State              string      `json:"state"`
	Country            string      `json:"country"`
	Private            bool        `json:"private"`
	Hazardous          bool        `json:"hazardous"`
	Starred            bool        `json:"starred"`
	StarCount          int         `json:"star_count,omitempty"`
	EffortCount        int         `json:"effort_count,omitempty"`
	AthleteCount       int         `json:"athlete_count,omitempty"`
	Map                PolylineMap `json:"map"`
	CreatedAt          time.Time   `json:"created_at,omitempty"`
	UpdatedAt          time.Time   `json:"updated_at,omitempty"`
}

// ListActivitiesOptions narrows GET /athlete/activities. Zero values are
// omitted from the query.
type ListActivitiesOptions struct {
	// Page and PerPage control pagination. Strava caps PerPage at 200.
	Page    int
	PerPage int

	// Before and After bound the activity start time.
	Before time.Time
	After  time.Time
}

// ListOptions is plain pagination for list endpoints without filters.
type ListOptions struct {
	Page    int
	PerPage int
}
