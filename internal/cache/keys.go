package cache

const (
	KeyPOISnapshot = "pois:snapshot"
)
