// Package stream はクライアントごとのマルチパート映像配信を担う
//
// セッションは1フレームごとに FrameSource から取得し、
// multipart/x-mixed-replace の1パートとして書き出す。
// 取得に失敗した場合は text/plain のエラーパートを送り、一定時間待って再試行する。
// 待機は排他区間の外で行うため、他のクライアントや操作を妨げない。
package stream
