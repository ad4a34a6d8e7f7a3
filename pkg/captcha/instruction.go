package captcha

import "strings"

// Classification é o resultado do classificador de instruções.
type Classification struct {
	Labels      []string
	Unsupported bool
	Mode        Mode
}

// LabelKey identifica o conjunto de labels; usado para detectar troca de categoria.
func (c Classification) LabelKey() string {
	return strings.Join(c.Labels, "|")
}

type keywordRule struct {
	keywords []string
	labels   []string
}

// Classes que o detector (vocabulário COCO) não cobre.
var unsupportedKeywords = []string{
	"crosswalk", "人行横道", "斑马线", "faixa de pedestre", "faixas de pedestre",
	"stair", "楼梯", "escada",
	"bridge", "桥", "ponte",
	"chimney", "烟囱", "chaminé", "chamine",
	"palm", "棕榈", "palmeira",
	"mountain", "hill", "山", "montanha", "colina",
	"parking meter", "停车计时器", "停车", "parquímetro", "parquimetro",
	"tractor", "拖拉机", "trator",
}

// A ordem importa: a primeira regra que casar vence.
var keywordTable = []keywordRule{
	{[]string{"摩托", "motorcycle", "motocicleta", "moto"}, []string{"motorcycle"}},
	{[]string{"公交", "巴士", "bus", "ônibus", "onibus"}, []string{"bus"}},
	{[]string{"自行", "bicycle", "bike", "bicicleta"}, []string{"bicycle"}},
	{[]string{"红绿灯", "traffic light", "semáforo", "semaforo"}, []string{"traffic light"}},
	{[]string{"消防", "hydrant", "hidrante"}, []string{"fire hydrant"}},
	{[]string{"出租车", "taxi", "táxi"}, []string{"car"}},
	{[]string{"卡车", "truck", "caminhão", "caminhao", "caminhões"}, []string{"truck"}},
	{[]string{"轿车"}, []string{"car"}},
	{[]string{"汽车", "vehicle", "veículo", "veiculo", "car", "carro"}, []string{"car", "truck"}},
	{[]string{"船", "boat", "barco"}, []string{"boat"}},
}

// Frases de desafio dinâmico: "clique em verificar quando não houver mais".
var dynamicPhrases = []string{
	"until", "once there are none", "none left", "no new images",
	"直到", "没有新图片",
	"até que não", "quando não houver mais", "até não haver",
}

// Classify mapeia o prompt para o conjunto de labels do detector.
func Classify(prompt string) Classification {
	text := strings.ToLower(prompt)

	mode := ModeStatic
	for _, p := range dynamicPhrases {
		if strings.Contains(text, p) {
			mode = ModeDynamic
			break
		}
	}

	for _, kw := range unsupportedKeywords {
		if strings.Contains(text, kw) {
			return Classification{Unsupported: true, Mode: mode}
		}
	}

	for _, rule := range keywordTable {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return Classification{
					Labels: append([]string(nil), rule.labels...),
					Mode:   mode,
				}
			}
		}
	}

	return Classification{Unsupported: true, Mode: mode}
}
