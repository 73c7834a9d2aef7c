package middleware

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

// FlashCookieName はフラッシュメッセージを保持するCookieの名前。
const FlashCookieName = "flash"

// フラッシュメッセージのカテゴリ
const (
	FlashInfo    = "info"
	FlashSuccess = "success"
	FlashWarning = "warning"
	FlashError   = "error"
)

// Flash はリダイレクト先で1度だけ表示するメッセージ。
type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// SetFlash はフラッシュメッセージをCookieに保存する。
// 既存のメッセージがある場合は末尾に追加する。
func SetFlash(w http.ResponseWriter, r *http.Request, category, message string) {
	flashes := readFlashes(r)
	flashes = append(flashes, Flash{Category: category, Message: message})

	b, err := json.Marshal(flashes)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(b),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopFlashes はフラッシュメッセージを読み出し、Cookieを削除する。
func PopFlashes(w http.ResponseWriter, r *http.Request) []Flash {
	flashes := readFlashes(r)
	if len(flashes) > 0 {
		http.SetCookie(w, &http.Cookie{
			Name:     FlashCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return flashes
}

// RedirectWithFlash はフラッシュメッセージを保存して303でリダイレクトする。
func RedirectWithFlash(w http.ResponseWriter, r *http.Request, location, category, message string) {
	SetFlash(w, r, category, message)
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// readFlashes はCookieからフラッシュメッセージを読み出す。壊れた値は無視する。
func readFlashes(r *http.Request) []Flash {
	cookie, err := r.Cookie(FlashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var flashes []Flash
	if err := json.Unmarshal(b, &flashes); err != nil {
		return nil
	}
	return flashes
}
