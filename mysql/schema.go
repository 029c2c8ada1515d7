package mysql

import "fmt"

const preferencesSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	actor_uid VARCHAR(128) NOT NULL,
	email BOOLEAN NOT NULL DEFAULT FALSE,
	sms BOOLEAN NOT NULL DEFAULT FALSE,
	push BOOLEAN NOT NULL DEFAULT FALSE,
	digest VARCHAR(16) NOT NULL DEFAULT 'off',
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	PRIMARY KEY (actor_uid)
);`

const profileSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	actor_uid VARCHAR(128) NOT NULL,
	display_name VARCHAR(320) NOT NULL,
	timezone VARCHAR(64) NOT NULL DEFAULT '',
	locale VARCHAR(35) NOT NULL DEFAULT '',
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	PRIMARY KEY (actor_uid)
);`

// Schema returns the DDL statements creating the preferences and profile tables, in order.
func Schema(preferencesTable, profileTable string) ([]string, error) {
	prefs, err := writerTable("preferences", preferencesTable)
	if err != nil {
		return nil, err
	}
	profile, err := writerTable("profile", profileTable)
	if err != nil {
		return nil, err
	}

	return []string{
		fmt.Sprintf(preferencesSchemaTemplate, prefs),
		fmt.Sprintf(profileSchemaTemplate, profile),
	}, nil
}
