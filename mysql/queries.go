package mysql

import "fmt"

type queries struct {
	upsertPreferences string
	upsertProfile     string
	selectPreferences string
	selectProfile     string
}

func newQueries(preferencesTable, profileTable string) queries {
	return queries{
		upsertPreferences: fmt.Sprintf(
			"INSERT INTO %s (actor_uid, email, sms, push, digest, updated_at) VALUES (?, ?, ?, ?, ?, ?) AS new "+
				"ON DUPLICATE KEY UPDATE email = new.email, sms = new.sms, push = new.push, "+
				"digest = new.digest, updated_at = new.updated_at",
			preferencesTable,
		),
		upsertProfile: fmt.Sprintf(
			"INSERT INTO %s (actor_uid, display_name, timezone, locale, updated_at) VALUES (?, ?, ?, ?, ?) AS new "+
				"ON DUPLICATE KEY UPDATE display_name = new.display_name, timezone = new.timezone, "+
				"locale = new.locale, updated_at = new.updated_at",
			profileTable,
		),
		selectPreferences: fmt.Sprintf("SELECT email, sms, push, digest FROM %s WHERE actor_uid = ?", preferencesTable),
		selectProfile:     fmt.Sprintf("SELECT display_name, timezone, locale FROM %s WHERE actor_uid = ?", profileTable),
	}
}
