/*
 * Keyserver
 * Copyright (C) 2026  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package mailer

import (
	"embed"
	"strings"
	"text/template"

	"github.com/gravitational/trace"

	"github.com/gravitational/keyserver/lib/defaults"
)

//go:embed templates
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type templateData struct {
	Name  string
	Email string
	KeyID string
	URL   string
}

// Render produces the localized subject and body of the email. Unknown
// locales fall back to english.
func Render(email Email) (subject, body string, err error) {
	locale := email.Locale
	if templates.Lookup(templateName(email.Template, locale, "subject")) == nil {
		locale = defaults.FallbackLocale
	}
	data := templateData{
		Name:  email.Name,
		Email: email.Recipient,
		KeyID: email.KeyID,
		URL:   email.VerifyURL(),
	}
	subject, err = render(templateName(email.Template, locale, "subject"), data)
	if err != nil {
		return "", "", trace.Wrap(err)
	}
	body, err = render(templateName(email.Template, locale, "body"), data)
	if err != nil {
		return "", "", trace.Wrap(err)
	}
	return subject, body, nil
}

func templateName(tmpl, locale, part string) string {
	return tmpl + "." + locale + "." + part
}

func render(name string, data templateData) (string, error) {
	var sb strings.Builder
	if err := templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", trace.Wrap(err)
	}
	return strings.TrimSpace(sb.String()), nil
}
