// 包 locate：基于 MaxMind City 库将客户端 IP 解析为初始视口中心
// 背景：首次打开地图时尚无视口，按访问者位置给出一个合理的起点
package locate

import (
	"errors"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnavailable：未加载库或查询无结果
var ErrUnavailable = errors.New("locate: no location for address")

// Locator：nil 或未打开时所有查询都返回 ErrUnavailable
type Locator struct {
	db *geoip2.Reader
}

// Open：path 为空时返回禁用态的 Locator
func Open(path string) (*Locator, error) {
	if strings.TrimSpace(path) == "" {
		return &Locator{}, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &Locator{db: db}, nil
}

func (l *Locator) Enabled() bool { return l != nil && l.db != nil }

// Locate：返回 (lat, lon)；(0,0) 视为无定位结果
func (l *Locator) Locate(ip string) (float64, float64, error) {
	if !l.Enabled() {
		return 0, 0, ErrUnavailable
	}
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil {
		return 0, 0, ErrUnavailable
	}
	rec, err := l.db.City(addr)
	if err != nil {
		return 0, 0, err
	}
	lat, lon := rec.Location.Latitude, rec.Location.Longitude
	if lat == 0 && lon == 0 {
		return 0, 0, ErrUnavailable
	}
	return lat, lon, nil
}

func (l *Locator) Close() error {
	if !l.Enabled() {
		return nil
	}
	return l.db.Close()
}
