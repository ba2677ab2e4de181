// Package camera 1台の撮像デバイスへのアクセスを管理する
//
// # 責務
// - デバイスのオープンと初期設定（センサー解像度の縮小・連続AF）
// - 全デバイス操作の排他制御（Coordinator）
// - 入力値の検証（ControlRegistry の Validate* 関数）
// - 撮影設定の状態遷移（unavailable / stopped / running）
// - フォーカス・露出・ゲイン・ズーム・ホワイトバランス・プリセットの操作
//
// # 仕様
// - デバイスはプロセスに1つ。起動時に Open し、失敗したらプロセス終了まで利用不可
// - デバイスへのアクセスは必ず Coordinator.WithDevice の排他区間内で行う
// - 区間は再入不可で、待機は context のキャンセルで中断できる
// - 設定変更は stop → apply → start を1つの区間で行い、失敗時は直前の設定を保持する
// - コントロールは宣言された範囲内の値だけを適用し、1つでも不正なら何も適用しない
//
// # ドライバー
//   - mock: 合成グラデーション画像を返す。テストと開発用
//   - v4l2: github.com/blackjack/webcam で /dev/video* を直接操作する（Linux のみ）
//     device に "auto" を指定すると v4l2-ctl でカラー出力を持つカメラを探す
//   - rpicam: rpicam-jpeg（旧 libcamera-jpeg）を1フレームごとに実行する
//
// # 前提要件
//   - v4l-utils: デバイス検出とカメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - rpicam-apps: rpicam ドライバーで使用
//     Raspberry Pi OS: sudo apt install rpicam-apps
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
