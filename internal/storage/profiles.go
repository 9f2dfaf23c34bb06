package storage

// Profile is a per-client record that outlives any single session:
// display name and client-side preferences. Not an account — it carries no
// credentials, only cosmetic/preference state keyed by the stable client id
// from the session's auth token.
type Profile struct {
	ClientID    string            `json:"client_id"`
	DisplayName string            `json:"display_name"`
	Preferences map[string]string `json:"preferences"`
}

func (s *Store) PutProfile(p Profile) error {
	return putJSON(s.profiles, p.ClientID, p)
}

func (s *Store) GetProfile(clientID string) (Profile, bool, error) {
	var p Profile
	found, err := getJSON(s.profiles, clientID, &p)
	return p, found, err
}
